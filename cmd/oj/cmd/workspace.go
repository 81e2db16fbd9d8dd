package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "inspect and reclaim job worktrees",
}

var workspaceLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Query(&ipc.Query{Kind: ipc.QueryListWorkspaces, Namespace: effectiveNamespace(cfg)})
		if err != nil {
			return err
		}
		if len(resp.Workspaces) == 0 {
			fmt.Println("no workspaces")
			return nil
		}
		fmt.Printf("%-14s %-10s %s\n", "ID", "STATUS", "PATH")
		for _, w := range resp.Workspaces {
			fmt.Printf("%-14s %-10s %s\n", shortID(w.ID), w.Status, w.Path)
		}
		return nil
	},
}

var workspaceShowCmd = &cobra.Command{
	Use:   "show <workspace-id>",
	Short: "show a workspace's path, branch, and status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Query(&ipc.Query{Kind: ipc.QueryGetWorkspace, ID: args[0]})
		if err != nil {
			return err
		}
		w := resp.Workspace
		fmt.Printf("id:     %s\n", w.ID)
		fmt.Printf("path:   %s\n", w.Path)
		if w.Branch != "" {
			fmt.Printf("branch: %s\n", w.Branch)
		}
		fmt.Printf("status: %s\n", w.Status)
		if w.Reason != "" {
			fmt.Printf("reason: %s\n", w.Reason)
		}
		return nil
	},
}

var workspaceDropCmd = &cobra.Command{
	Use:   "drop <workspace-id>",
	Short: "drop a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqWorkspaceDrop, WorkspaceDrop: &ipc.WorkspaceDropRequest{ID: args[0]}})
		return err
	},
}

var workspaceDropAllCmd = &cobra.Command{
	Use:   "drop-all",
	Short: "drop every workspace on record",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Call(&ipc.Request{Kind: ipc.ReqWorkspaceDropAll})
		if err != nil {
			return err
		}
		fmt.Println("dropped:", strings.Join(resp.WorkspacesDropped.Dropped, ", "))
		return nil
	},
}

var (
	prunePlanAll bool
	pruneDryRun  bool
)

var workspacePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "drop workspaces with no owning job (idle workspaces)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Call(&ipc.Request{Kind: ipc.ReqWorkspacePrune, WorkspacePrune: &ipc.WorkspacePruneRequest{
			All: prunePlanAll, DryRun: pruneDryRun,
		}})
		if err != nil {
			return err
		}
		r := resp.WorkspacesPruned
		verb := "pruned"
		if pruneDryRun {
			verb = "would prune"
		}
		fmt.Printf("%s: %s\n", verb, strings.Join(r.Pruned, ", "))
		if len(r.Skipped) > 0 {
			fmt.Println("skipped (owned):", strings.Join(r.Skipped, ", "))
		}
		return nil
	},
}

func init() {
	workspacePruneCmd.Flags().BoolVar(&prunePlanAll, "all", false, "also prune workspaces with a live owner")
	workspacePruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "report what would be pruned without dropping anything")

	workspaceCmd.AddCommand(workspaceLsCmd, workspaceShowCmd, workspaceDropCmd, workspaceDropAllCmd, workspacePruneCmd)
	rootCmd.AddCommand(workspaceCmd)
}
