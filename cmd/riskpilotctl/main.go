// riskpilotctl talks to a running riskpilotd through the Go SDK.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"RiskPilot-Chain/sdk/go/riskpilot"
)

// Version is set at build time.
var Version = "dev"

var (
	serverURL string
	userID    string
	asJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "riskpilotctl",
	Short:         "Command line client for the RiskPilot holdings risk assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
	defaultServer := os.Getenv("RISKPILOT_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "riskpilotd base URL")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("RISKPILOT_USER"), "Hedera account id of the caller, e.g. 0.0.500")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newClient 按全局参数构造 SDK 客户端。streaming 为 true 时不设置整体超时。
func newClient(streaming bool) (*riskpilot.Client, error) {
	var hc *http.Client
	if streaming {
		hc = &http.Client{}
	}
	return riskpilot.NewClient(strings.TrimRight(serverURL, "/"), hc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
