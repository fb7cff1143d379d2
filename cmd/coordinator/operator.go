package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/blakecragen/cluster/client"
	"github.com/blakecragen/cluster/id"
	"github.com/blakecragen/cluster/job"
)

// operatorFlags are shared by every operator subcommand.
type operatorFlags struct {
	server  string
	timeout time.Duration
	json    bool
}

func (f *operatorFlags) client() *client.Client {
	return client.New(f.server, client.WithTimeout(f.timeout))
}

func defaultServer() string {
	if v := os.Getenv("COORDINATOR_URL"); v != "" {
		return v
	}
	return "http://localhost:5000"
}

func newOperatorCmds() []*cobra.Command {
	f := &operatorFlags{}
	cmds := []*cobra.Command{
		statusCmd(f), submitCmd(f), jobsCmd(f), jobCmd(f), workersCmd(f),
		nodesCmd(f), downloadCmd(f), collectCmd(f), deleteCmd(f),
		removeWorkerCmd(f), purgeCmd(f),
	}
	for _, c := range cmds {
		c.Flags().StringVar(&f.server, "server", defaultServer(), "coordinator base URL")
		c.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "request timeout")
		c.Flags().BoolVar(&f.json, "json", false, "print raw JSON")
	}
	return cmds
}

// withClient runs fn with a client that is closed afterwards.
func withClient(cmd *cobra.Command, f *operatorFlags, fn func(context.Context, *client.Client) error) error {
	c := f.client()
	defer c.Close()
	return fn(cmd.Context(), c)
}

func parseID(raw string) (id.JobID, error) {
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		return id.Nil, fmt.Errorf("invalid job id %q: %w", raw, err)
	}
	return jobID, nil
}

// ──────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────

func statusCmd(f *operatorFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show coordinator health and queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				health, err := c.Health(ctx)
				if err != nil {
					return err
				}
				queue, err := c.Queue(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "server:  %s\n", health.Server)
				fmt.Fprintf(out, "store:   %v\n", health.Store)
				fmt.Fprintf(out, "pending: high=%d normal=%d low=%d\n",
					len(queue.Prio0), len(queue.Prio1), len(queue.Prio2))
				return nil
			})
		},
	}
}

func submitCmd(f *operatorFlags) *cobra.Command {
	var (
		priority int
		strat    string
	)
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Upload an input file as a new job",
		Example: `  coordinator submit data.csv
  coordinator submit data.csv --priority 0 --strategy capability-match:linux/arm64`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				j, err := c.Submit(ctx, client.Upload{
					Name:     filepath.Base(args[0]),
					Content:  content,
					Priority: priority,
					Strategy: strat,
				})
				if err != nil {
					return err
				}
				return printJobs(cmd.OutOrStdout(), f.json, j)
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", job.DefaultPriority, "0 (high), 1 (normal) or 2 (low)")
	cmd.Flags().StringVar(&strat, "strategy", "", `dispatch strategy, e.g. "capability-match:gpu"`)
	return cmd
}

func jobsCmd(f *operatorFlags) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				jobs, err := c.Jobs(ctx, job.State(strings.ToUpper(state)))
				if err != nil {
					return err
				}
				return printJobs(cmd.OutOrStdout(), f.json, jobs...)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only jobs in this state")
	return cmd
}

func jobCmd(f *operatorFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "job ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				j, err := c.Job(ctx, jobID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), j)
			})
		},
	}
}

func workersCmd(f *operatorFlags) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List registered workers and their liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				workers, err := c.Workers(ctx, window)
				if err != nil {
					return err
				}
				if f.json {
					return printJSON(cmd.OutOrStdout(), workers)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tOS\tCPU\tIP\tCURRENT JOB\tLAST HEARTBEAT")
				for _, w := range workers {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", w.ID, w.Status, w.OS, w.CPU, w.IP,
						dash(w.CurrentJob), w.LastHeartbeat.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", 0, "liveness window (default: the coordinator's heartbeat timeout)")
	return cmd
}

func nodesCmd(f *operatorFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List orchestrator nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				list, err := c.Nodes(ctx)
				if err != nil {
					return err
				}
				if f.json {
					return printJSON(cmd.OutOrStdout(), list)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tSTATUS\tROLE\tARCH\tIP\tKERNEL")
				for _, n := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", n.Name, n.Status, n.Role, n.Arch, n.InternalIP, n.Kernel)
				}
				return tw.Flush()
			})
		},
	}
}

func downloadCmd(f *operatorFlags) *cobra.Command {
	var (
		output  string
		collect bool
	)
	cmd := &cobra.Command{
		Use:   "download ID",
		Short: "Download a job's result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				data, name, err := c.Result(ctx, jobID)
				if err != nil {
					return err
				}
				path := output
				if path == "" {
					path = name
				}
				if path == "" {
					path = "result_" + jobID.String()
				}
				if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // results are meant to be read
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", path, len(data))
				if collect {
					return c.MarkCollected(ctx, jobID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: the result's name)")
	cmd.Flags().BoolVar(&collect, "collect", false, "mark the job collected after saving")
	return cmd
}

func collectCmd(f *operatorFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "collect ID",
		Short: "Mark a completed job as collected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				return c.MarkCollected(ctx, jobID)
			})
		},
	}
}

func deleteCmd(f *operatorFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				return c.DeleteJob(ctx, jobID, force)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete even if the job is not terminal")
	return cmd
}

func removeWorkerCmd(f *operatorFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-worker ID",
		Short: "Deregister a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				return c.RemoveWorker(ctx, args[0])
			})
		},
	}
}

func purgeCmd(f *operatorFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("purge deletes every job; pass --yes to confirm")
			}
			return withClient(cmd, f, func(ctx context.Context, c *client.Client) error {
				n, err := c.Purge(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d jobs\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

// ──────────────────────────────────────────────────
// Output
// ──────────────────────────────────────────────────

func printJobs(w io.Writer, asJSON bool, jobs ...*job.Job) error {
	if asJSON {
		return printJSON(w, jobs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPRIO\tSTRATEGY\tWORKER\tNAME")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			j.ID, j.State, j.Priority, j.StrategyName, dash(j.AssignedWorker), j.Name)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
