package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show daemon uptime and in-memory counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Call(&ipc.Request{Kind: ipc.ReqStatus})
		if err != nil {
			return err
		}
		st := resp.Status
		fmt.Printf("uptime:    %dms\n", st.Uptime)
		fmt.Printf("jobs:      %d\n", st.JobCount)
		fmt.Printf("agents:    %d\n", st.AgentCount)
		fmt.Printf("sessions:  %d\n", st.SessionCount)
		fmt.Printf("escalated: %d\n", st.EscalatedCount)
		fmt.Printf("orphaned:  %d\n", st.OrphanCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
