package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/ipc"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "push, list, and retry persisted queue items",
}

var queueLsCmd = &cobra.Command{
	Use:   "ls <queue-name>",
	Short: "list a queue's items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		resp, err := client.Query(&ipc.Query{Kind: ipc.QueryListQueueItems, Namespace: effectiveNamespace(cfg), QueueName: args[0]})
		if err != nil {
			return err
		}
		if len(resp.QueueItems) == 0 {
			fmt.Println("no items")
			return nil
		}
		fmt.Printf("%-20s %s\n", "ID", "STATUS")
		for _, item := range resp.QueueItems {
			fmt.Printf("%-20s %s\n", item.ID, item.Status)
		}
		return nil
	},
}

var queuePushCmd = &cobra.Command{
	Use:   "push <queue-name> key=value...",
	Short: "push one item onto a persisted queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		data, err := parseKeyValues(args[1:])
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqQueuePush, QueuePush: &ipc.QueuePushRequest{
			ProjectRoot: projectRootOrWD(), Namespace: effectiveNamespace(cfg), QueueName: args[0], Data: data,
		}})
		return err
	},
}

var queueDropCmd = &cobra.Command{
	Use:   "drop <queue-name> <item-id>",
	Short: "drop a queue item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqQueueDrop, QueueDrop: &ipc.QueueItemRefRequest{
			Namespace: effectiveNamespace(cfg), QueueName: args[0], ItemID: args[1],
		}})
		return err
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <queue-name> <item-id>",
	Short: "requeue a failed item for another attempt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{Kind: ipc.ReqQueueRetry, QueueRetry: &ipc.QueueItemRefRequest{
			Namespace: effectiveNamespace(cfg), QueueName: args[0], ItemID: args[1],
		}})
		return err
	},
}

func init() {
	queueCmd.AddCommand(queueLsCmd, queuePushCmd, queueDropCmd, queueRetryCmd)
	rootCmd.AddCommand(queueCmd)
}
