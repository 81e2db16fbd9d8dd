package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "inspect and control queue workers",
}

var workerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Query(&ipc.Query{Kind: ipc.QueryListWorkers, Namespace: effectiveNamespace(cfg)})
		if err != nil {
			return err
		}
		if len(resp.Workers) == 0 {
			fmt.Println("no workers")
			return nil
		}
		fmt.Printf("%-20s %-10s %-12s %s\n", "QUEUE", "STATUS", "CONCURRENCY", "INFLIGHT")
		for _, w := range resp.Workers {
			fmt.Printf("%-20s %-10s %-12d %d\n", w.QueueName, w.Status, w.Concurrency, w.Inflight)
		}
		return nil
	},
}

var workerStartCmd = &cobra.Command{
	Use:   "start <worker-name>",
	Short: "start a worker bound to the current project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqWorkerStart, WorkerStart: &ipc.WorkerStartRequest{
			ProjectRoot: projectRootOrWD(), Namespace: effectiveNamespace(cfg), WorkerName: args[0],
		}})
		return err
	},
}

var workerWakeCmd = &cobra.Command{
	Use:   "wake <worker-name>",
	Short: "poke a worker to check for queue work immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqWorkerWake, WorkerWake: &ipc.WorkerRefRequest{
			WorkerName: args[0], Namespace: effectiveNamespace(cfg),
		}})
		return err
	},
}

var workerStopCmd = &cobra.Command{
	Use:   "stop <worker-name>",
	Short: "stop a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqWorkerStop, WorkerStop: &ipc.WorkerRefRequest{
			WorkerName: args[0], Namespace: effectiveNamespace(cfg),
		}})
		return err
	},
}

func init() {
	workerCmd.AddCommand(workerLsCmd, workerStartCmd, workerWakeCmd, workerStopCmd)
	rootCmd.AddCommand(workerCmd)
}
