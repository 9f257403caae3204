package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"RiskPilot-Chain/sdk/go/riskpilot"
)

var streamChat bool

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Ask the assistant about holdings, risk, news or charts",
	Example: `  riskpilotctl chat -u 0.0.500 "scan my wallet"
  riskpilotctl chat --stream -u 0.0.500 "show SAUCE price chart for 7d"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVarP(&streamChat, "stream", "s", false, "print progress steps as they arrive")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("message must not be empty")
	}
	client, err := newClient(streamChat)
	if err != nil {
		return err
	}
	req := riskpilot.ChatRequest{Text: text, UserID: userID}
	out := cmd.OutOrStdout()

	if !streamChat {
		resp, err := client.Chat(cmd.Context(), req)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out, resp)
		}
		printResponse(cmd, resp)
		return nil
	}

	return client.Stream(cmd.Context(), req, func(step riskpilot.Step) error {
		if asJSON {
			return printJSON(out, step)
		}
		switch step.Name {
		case "error":
			// Stream 会把 error 步骤转换为返回值
		case "complete":
			done, err := step.Completion()
			if err != nil {
				return err
			}
			if done.Response != nil {
				printResponse(cmd, *done.Response)
			}
		default:
			fmt.Fprintf(out, "> %s %s\n", step.Name, step.Detail)
		}
		return nil
	})
}

func printResponse(cmd *cobra.Command, resp riskpilot.ChatResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Text)
	for _, g := range resp.Graphs {
		fmt.Fprintf(out, "\n[graph] %s %s (%s)\n", g.Kind, g.Subject, g.Timeframe)
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	if resp.CorrelationID != "" {
		fmt.Fprintf(out, "\nintent=%s correlation=%s latency=%dms\n", resp.Intent, resp.CorrelationID, resp.LatencyMS)
	}
}
