package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
)

var orphanCmd = &cobra.Command{
	Use:   "orphan",
	Short: "list and dismiss orphans left behind by an unclean shutdown",
}

var orphanLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list breadcrumb and session orphans found at startup",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Query(&ipc.Query{Kind: ipc.QueryListOrphans})
		if err != nil {
			return err
		}
		if len(resp.Orphans) == 0 {
			fmt.Println("no orphans")
			return nil
		}
		for _, o := range resp.Orphans {
			detected := time.UnixMilli(o.DetectedAtMS).Format(time.RFC3339)
			fmt.Printf("%s  %s\n", o.ID, detected)
			fmt.Printf("  %s\n", o.Description)
		}
		return nil
	},
}

var orphanDismissCmd = &cobra.Command{
	Use:   "dismiss <orphan-id>",
	Short: "dismiss an orphan once it's been accounted for",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{
			Kind:          ipc.ReqOrphanDismiss,
			OrphanDismiss: &ipc.OrphanRefRequest{ID: args[0]},
		})
		return err
	},
}

func init() {
	orphanCmd.AddCommand(orphanLsCmd, orphanDismissCmd)
	rootCmd.AddCommand(orphanCmd)
}
