package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list jobs (pipelines)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Query(&ipc.Query{Kind: ipc.QueryListPipelines, Namespace: effectiveNamespace(cfg)})
		if err != nil {
			return err
		}
		if len(resp.Pipelines) == 0 {
			fmt.Println("no jobs")
			return nil
		}
		fmt.Printf("%-14s %-20s %-16s %-12s %s\n", "ID", "NAME", "STEP", "STATUS", "NAMESPACE")
		for _, p := range resp.Pipelines {
			fmt.Printf("%-14s %-20s %-16s %-12s %s\n", shortID(p.ID), p.Name, p.Step, p.Status, p.Namespace)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "show a job's full step history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Query(&ipc.Query{Kind: ipc.QueryGetPipeline, ID: args[0]})
		if err != nil {
			return err
		}
		p := resp.Pipeline
		fmt.Printf("id:     %s\n", p.ID)
		fmt.Printf("name:   %s\n", p.Name)
		fmt.Printf("step:   %s\n", p.Step)
		fmt.Printf("status: %s\n", p.Status)
		if p.Error != "" {
			fmt.Printf("error:  %s\n", p.Error)
		}
		if len(p.Variables) > 0 {
			fmt.Println("variables:")
			for k, v := range p.Variables {
				fmt.Printf("  %s=%s\n", k, v)
			}
		}
		if len(p.StepHistory) > 0 {
			fmt.Println("step history:")
			for _, sr := range p.StepHistory {
				finished := "running"
				if sr.FinishedAtMS != nil {
					finished = fmt.Sprintf("%dms", *sr.FinishedAtMS-sr.StartedAtMS)
				}
				fmt.Printf("  %-16s %-10s %s\n", sr.Name, sr.Outcome, finished)
			}
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>...",
	Short: "cancel one or more jobs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Call(&ipc.Request{Kind: ipc.ReqPipelineCancel, PipelineCancel: &ipc.PipelineCancelRequest{IDs: args}})
		if err != nil {
			return err
		}
		r := resp.PipelinesCancelled
		if len(r.Cancelled) > 0 {
			fmt.Println("cancelled:", strings.Join(r.Cancelled, ", "))
		}
		if len(r.AlreadyTerminal) > 0 {
			fmt.Println("already terminal:", strings.Join(r.AlreadyTerminal, ", "))
		}
		if len(r.NotFound) > 0 {
			fmt.Println("not found:", strings.Join(r.NotFound, ", "))
		}
		return nil
	},
}

var (
	resumeMessage string
	resumeVars    []string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "resume a job waiting on a decision or paused step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := dialDaemon()
		if err != nil {
			return err
		}
		vars, err := parseKeyValues(resumeVars)
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqPipelineResume, PipelineResume: &ipc.PipelineResumeRequest{
			ID: args[0], Message: resumeMessage, Vars: vars,
		}})
		return err
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeMessage, "message", "", "message recorded alongside the resume")
	resumeCmd.Flags().StringArrayVar(&resumeVars, "var", nil, "variable override (format: name=value)")

	rootCmd.AddCommand(lsCmd, showCmd, cancelCmd, resumeCmd)
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --var %q, expected name=value", p)
		}
		out[k] = v
	}
	return out, nil
}
