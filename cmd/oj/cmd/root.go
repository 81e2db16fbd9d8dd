package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ojdaemon/ojd/internal/config"
	"github.com/ojdaemon/ojd/internal/ipc"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"

	projectRoot string
	namespace   string
)

var rootCmd = &cobra.Command{
	Use:   "oj",
	Short: "oj - control client for the ojd orchestrator daemon",
	Long: `oj talks to a running ojd daemon over its unix socket: start and
inspect jobs, resolve decisions, drive queues and workers, and manage
agent sessions and workspaces.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectRoot, "dir", "C", "", "project root ojd manages (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", "", "namespace to scope the request to (default: config namespace)")
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("oj {{.Version}}\n")
}

// dialDaemon loads config for the effective project root and dials the
// daemon's unix socket at <state_dir>/ojd.sock, the same path
// lifecycle.Run binds to.
func dialDaemon() (*ipc.Client, *config.Config, error) {
	dir := projectRoot
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("resolving working directory: %w", err)
		}
		dir = wd
	}

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	socketPath := filepath.Join(cfg.StateDir(dir), "ojd.sock")
	if err := waitForSocket(socketPath, cfg.Client.ConnectTimeout, cfg.Client.ConnectPollInterval); err != nil {
		return nil, nil, fmt.Errorf("ojd is not running in %s (no socket at %s): %w", dir, socketPath, err)
	}

	client := ipc.NewClient(socketPath)
	client.SetTimeout(cfg.Client.IPCTimeout)
	client.SetConnectTimeout(cfg.Client.ConnectTimeout)
	return client, cfg, nil
}

// waitForSocket polls for the daemon's socket to appear, so a CLI
// invocation issued just after launching `ojd` doesn't have to race the
// daemon's own startup. Returns the last stat error if the deadline
// passes without the socket showing up.
func waitForSocket(socketPath string, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	if timeout <= 0 {
		_, err := os.Stat(socketPath)
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		_, err := os.Stat(socketPath)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(poll)
	}
}

// effectiveNamespace returns the --namespace override, falling back to
// the project's configured default.
func effectiveNamespace(cfg *config.Config) string {
	if namespace != "" {
		return namespace
	}
	return cfg.Namespace
}

// projectRootOrWD returns the --dir override, falling back to the
// current working directory.
func projectRootOrWD() string {
	if projectRoot != "" {
		return projectRoot
	}
	wd, _ := os.Getwd()
	return wd
}
