package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var busCmd = &cobra.Command{
	Use:   "bus",
	Short: "Show message bus counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(false)
		if err != nil {
			return err
		}
		st, err := client.BusStats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, st)
		}
		fmt.Fprintf(out, "agents:    %d\n", st.Agents)
		fmt.Fprintf(out, "waiters:   %d\n", st.Waiters)
		fmt.Fprintf(out, "observers: %d\n", st.Observers)
		fmt.Fprintf(out, "sent:      %d\n", st.Sent)
		fmt.Fprintf(out, "dropped:   %d\n", st.Dropped)
		fmt.Fprintf(out, "history:   %d\n", st.History)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(busCmd)
}
