package cmd

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ojdaemon/ojd/internal/ipc"
	"github.com/ojdaemon/ojd/internal/oj"
)

var runbookCmd = &cobra.Command{
	Use:   "runbook",
	Short: "load a runbook into the daemon for the current namespace",
}

var runbookLoadCmd = &cobra.Command{
	Use:   "load <path>",
	Short: "parse a TOML runbook file and register it for this namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rb oj.Runbook
		if _, err := toml.DecodeFile(args[0], &rb); err != nil {
			return fmt.Errorf("parsing runbook %s: %w", args[0], err)
		}

		hash, err := oj.HashRunbook(&rb)
		if err != nil {
			return fmt.Errorf("hashing runbook: %w", err)
		}
		rb.Hash = hash

		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}
		_, err = client.Call(&ipc.Request{
			Kind: ipc.ReqEvent,
			Event: &oj.Event{
				Kind: oj.EventRunbookLoaded,
				RunbookLoaded: &oj.RunbookLoadedPayload{
					Hash:      hash,
					Runbook:   &rb,
					Namespace: effectiveNamespace(cfg),
				},
			},
		})
		if err != nil {
			return err
		}
		fmt.Printf("loaded runbook %s (%s) for namespace %q\n", args[0], hash[:12], effectiveNamespace(cfg))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <command> [args...]",
	Short: "invoke a runbook command, starting the job it names",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := dialDaemon()
		if err != nil {
			return err
		}

		namedArgs := map[string]string{}
		if varsFile, _ := cmd.Flags().GetString("vars-file"); varsFile != "" {
			b, err := os.ReadFile(varsFile)
			if err != nil {
				return fmt.Errorf("reading vars file %s: %w", varsFile, err)
			}
			if err := yaml.Unmarshal(b, &namedArgs); err != nil {
				return fmt.Errorf("parsing vars file %s: %w", varsFile, err)
			}
		}

		_, err = client.Call(&ipc.Request{
			Kind: ipc.ReqRunCommand,
			RunCommand: &ipc.RunCommandRequest{
				ProjectRoot: projectRootOrWD(),
				InvokeDir:   projectRootOrWD(),
				Namespace:   effectiveNamespace(cfg),
				Command:     args[0],
				Args:        args[1:],
				NamedArgs:   namedArgs,
			},
		})
		return err
	},
}

func init() {
	runCmd.Flags().String("vars-file", "", "YAML file of named args to pass to the command's job")
	runbookCmd.AddCommand(runbookLoadCmd)
	rootCmd.AddCommand(runbookCmd, runCmd)
}
