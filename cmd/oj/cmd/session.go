package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "inspect and drive agent terminal sessions",
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Query(&ipc.Query{Kind: ipc.QueryListSessions})
		if err != nil {
			return err
		}
		if len(resp.Sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		fmt.Printf("%-14s %-10s %-14s %s\n", "ID", "OWNER", "OWNER-ID", "UPDATED-MS")
		for _, s := range resp.Sessions {
			fmt.Printf("%-14s %-10s %-14s %d\n", shortID(s.ID), s.OwnerKind, shortID(s.OwnerID), s.UpdatedAtMS)
		}
		return nil
	},
}

var sessionSendCmd = &cobra.Command{
	Use:   "send <session-id> <input...>",
	Short: "type a line of input into a session, followed by Enter",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqSessionSend, SessionSend: &ipc.SessionSendRequest{
			ID: args[0], Input: strings.Join(args[1:], " "),
		}})
		return err
	},
}

var sessionPeekColor bool

var sessionPeekCmd = &cobra.Command{
	Use:   "peek <session-id>",
	Short: "print a session's current visible pane content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Call(&ipc.Request{Kind: ipc.ReqPeekSession, PeekSession: &ipc.PeekSessionRequest{
			SessionID: args[0], WithColor: sessionPeekColor,
		}})
		if err != nil {
			return err
		}
		for _, line := range resp.Logs {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	sessionPeekCmd.Flags().BoolVar(&sessionPeekColor, "color", false, "keep ANSI color escapes in the capture")
	sessionCmd.AddCommand(sessionLsCmd, sessionSendCmd, sessionPeekCmd)
	rootCmd.AddCommand(sessionCmd)
}
