package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
	"github.com/ojdaemon/ojd/internal/oj"
)

var decisionCmd = &cobra.Command{
	Use:   "decision",
	Short: "list and resolve decisions raised by running jobs",
}

var decisionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list unresolved decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Query(&ipc.Query{Kind: ipc.QueryListDecisions, Namespace: effectiveNamespace(cfg)})
		if err != nil {
			return err
		}
		if len(resp.Decisions) == 0 {
			fmt.Println("no unresolved decisions")
			return nil
		}
		for _, d := range resp.Decisions {
			fmt.Printf("%s (job %s)\n", shortID(d.ID), shortID(d.JobID))
			fmt.Printf("  %s\n", d.Context)
			for _, opt := range d.Options {
				mark := " "
				if opt.Recommended {
					mark = "*"
				}
				fmt.Printf("  %s[%d] %s", mark, opt.Number, opt.Label)
				if opt.Description != "" {
					fmt.Printf(" - %s", opt.Description)
				}
				fmt.Println()
			}
		}
		return nil
	},
}

var decisionResolveCmd = &cobra.Command{
	Use:   "resolve <decision-id>",
	Short: "resolve a decision by option number or a freeform message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}

		choice, _ := cmd.Flags().GetString("choice")
		message, _ := cmd.Flags().GetString("message")
		if choice == "" && message == "" {
			return fmt.Errorf("one of --choice or --message is required")
		}

		payload := &oj.DecisionResolvedPayload{ID: oj.DecisionID(args[0]), Message: message}
		if choice != "" {
			n, err := strconv.Atoi(choice)
			if err != nil {
				return fmt.Errorf("--choice must be an option number: %w", err)
			}
			payload.Chosen = &n
		}

		_, err = client.Call(&ipc.Request{
			Kind: ipc.ReqEvent,
			Event: &oj.Event{Kind: oj.EventDecisionResolved, DecisionResolved: payload},
		})
		return err
	},
}

func init() {
	decisionResolveCmd.Flags().String("choice", "", "option number to choose")
	decisionResolveCmd.Flags().String("message", "", "freeform resolution message")
	decisionCmd.AddCommand(decisionLsCmd, decisionResolveCmd)
	rootCmd.AddCommand(decisionCmd)
}
