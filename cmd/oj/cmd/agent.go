package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "signal a running agent",
}

var agentSendCmd = &cobra.Command{
	Use:   "send <agent-id> <message...>",
	Short: "deliver a message to a running agent (e.g. a nudge or correction)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqAgentSend, AgentSend: &ipc.AgentSendRequest{
			AgentID: args[0], Message: strings.Join(args[1:], " "),
		}})
		return err
	},
}

func init() {
	agentCmd.AddCommand(agentSendCmd)
	rootCmd.AddCommand(agentCmd)
}
