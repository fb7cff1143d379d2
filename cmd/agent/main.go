// Command agent runs a cluster worker: it registers with the coordinator,
// heartbeats, and executes the jobs the coordinator assigns to it.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blakecragen/cluster"
	"github.com/blakecragen/cluster/agent"
	"github.com/blakecragen/cluster/client"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	config   string
	server   string
	runner   string
	workerID string
	caps     []string
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "agent [-- COMMAND ARGS...]",
		Short: "Cluster worker agent",
		Long: `The agent registers with the coordinator and runs the jobs assigned to it.

With --runner command, the arguments after -- are executed for every job.
{input}, {output} and {workdir} are replaced with per-job paths; without
{output}, the command's stdout becomes the result.`,
		Example: `  agent --server http://coordinator:5000
  agent --runner command --cap gpu -- python3 infer.py {input} {output}`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.Flags().StringVar(&f.config, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&f.server, "server", "", "coordinator base URL (overrides config)")
	cmd.Flags().StringVar(&f.runner, "runner", "", "task runner: default or command (overrides config)")
	cmd.Flags().StringVar(&f.workerID, "id", "", "worker id (default: hostname plus a random suffix)")
	cmd.Flags().StringSliceVar(&f.caps, "cap", nil, "extra capability tag, repeatable")
	return cmd
}

func run(cmd *cobra.Command, f flags, args []string) error {
	cfg, err := cluster.LoadAgentConfig(f.config)
	if err != nil {
		return err
	}
	if f.server != "" {
		cfg.CoordinatorURL = f.server
	}
	if f.runner != "" {
		cfg.TaskRunner = f.runner
	}
	if f.workerID != "" {
		cfg.WorkerID = f.workerID
	}
	if len(args) > 0 {
		cfg.Command = args
	}
	cfg.Capabilities = append(cfg.Capabilities, f.caps...)

	logger, err := cluster.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	runner, err := agent.NewRunner(cfg.TaskRunner, cfg.Command)
	if err != nil {
		return err
	}

	c := client.New(cfg.CoordinatorURL,
		client.WithTimeout(cfg.RequestTimeout),
		client.WithLogger(logger),
	)
	defer c.Close()

	a := agent.New(c,
		agent.WithLogger(logger),
		agent.WithWorkerID(cfg.WorkerID),
		agent.WithRunner(runner),
		agent.WithCapabilities(cfg.Capabilities...),
		agent.WithPollInterval(cfg.PollInterval),
		agent.WithHeartbeatInterval(cfg.HeartbeatInterval),
		agent.WithTaskTimeout(cfg.TaskTimeout),
		agent.WithWorkDir(cfg.WorkDir),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}
