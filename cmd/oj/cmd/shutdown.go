package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
)

var shutdownKill bool

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "ask the daemon to exit cleanly",
	Long: `shutdown asks ojd to stop. By default it leaves running sessions
attached so agents keep working; --kill also force-kills every
recorded tmux session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		if _, err := client.Call(&ipc.Request{Kind: ipc.ReqShutdown, Shutdown: &ipc.ShutdownRequest{Kill: shutdownKill}}); err != nil {
			return err
		}
		fmt.Println("shutdown requested")
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "check that the daemon is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		if err := client.Ping(); err != nil {
			return err
		}
		fmt.Println("pong")
		return nil
	},
}

func init() {
	shutdownCmd.Flags().BoolVar(&shutdownKill, "kill", false, "also force-kill every recorded session")
	rootCmd.AddCommand(shutdownCmd, pingCmd)
}
