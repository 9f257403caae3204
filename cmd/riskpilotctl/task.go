package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"RiskPilot-Chain/sdk/go/riskpilot"
)

var (
	taskID       string
	waitInterval time.Duration
	waitAfter    bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and inspect asynchronous chat jobs",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit <message>",
	Short: "Queue a chat message for background processing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return errors.New("message must not be empty")
		}
		client, err := newClient(false)
		if err != nil {
			return err
		}
		t, err := client.SubmitTask(cmd.Context(), riskpilot.TaskSubmission{ID: taskID, Text: text, UserID: userID})
		if err != nil {
			return err
		}
		if waitAfter {
			t, err = client.WaitTask(cmd.Context(), t.ID, waitInterval)
			if err != nil {
				return err
			}
		}
		return printTask(cmd, t)
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show the current state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(false)
		if err != nil {
			return err
		}
		t, err := client.GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printTask(cmd, t)
	},
}

var taskWaitCmd = &cobra.Command{
	Use:   "wait <task-id>",
	Short: "Poll a job until it succeeds or fails",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(false)
		if err != nil {
			return err
		}
		t, err := client.WaitTask(cmd.Context(), args[0], waitInterval)
		if err != nil {
			return err
		}
		return printTask(cmd, t)
	},
}

func init() {
	taskSubmitCmd.Flags().StringVar(&taskID, "id", "", "idempotency id for the job")
	taskSubmitCmd.Flags().BoolVarP(&waitAfter, "wait", "w", false, "wait for the job to finish")
	for _, c := range []*cobra.Command{taskSubmitCmd, taskWaitCmd} {
		c.Flags().DurationVar(&waitInterval, "interval", time.Second, "poll interval")
	}
	taskCmd.AddCommand(taskSubmitCmd, taskGetCmd, taskWaitCmd)
	rootCmd.AddCommand(taskCmd)
}

func printTask(cmd *cobra.Command, t riskpilot.Task) error {
	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, t)
	}
	fmt.Fprintf(out, "%s  %s  attempts %d/%d\n", t.ID, t.Status, t.Attempts, t.MaxRetries)
	if t.LastError != "" {
		fmt.Fprintf(out, "last error: %s (%s)\n", t.LastError, t.ErrorCode)
	}
	if t.Result != nil {
		fmt.Fprintln(out)
		printResponse(cmd, *t.Result)
	}
	if t.Status == "failed" {
		return fmt.Errorf("task %s failed", t.ID)
	}
	return nil
}
