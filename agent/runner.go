package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// TaskRunner executes one job. inputPath holds the downloaded input and
// workDir is a scratch directory owned by the task; the runner returns the
// path of the file to upload as the result.
type TaskRunner interface {
	Name() string
	Run(ctx context.Context, inputPath, workDir string) (outputPath string, err error)
}

// Runner names accepted by NewRunner.
const (
	RunnerDefault = "default"
	RunnerCommand = "command"
)

// NewRunner builds the runner registered under name. command is used by
// the command runner and ignored otherwise.
func NewRunner(name string, command []string) (TaskRunner, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", RunnerDefault:
		return DefaultRunner{}, nil
	case RunnerCommand:
		return NewCommandRunner(command)
	default:
		return nil, fmt.Errorf("agent: unknown task runner %q", name)
	}
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultHeader is the first line written by DefaultRunner.
const DefaultHeader = "Processed by task_runner_default\n\n"

// DefaultRunner copies the input to <base>_output.txt behind DefaultHeader.
// Delay, when set, simulates work.
type DefaultRunner struct {
	Delay time.Duration
}

// Name implements TaskRunner.
func (DefaultRunner) Name() string { return RunnerDefault }

// Run implements TaskRunner.
func (r DefaultRunner) Run(ctx context.Context, inputPath, workDir string) (string, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out := filepath.Join(workDir, base+"_output.txt")
	if err := os.WriteFile(out, append([]byte(DefaultHeader), data...), 0o600); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Command
// ──────────────────────────────────────────────────

// CommandRunner runs an external program. The placeholders {input},
// {output} and {workdir} in its arguments are replaced per task. When no
// argument mentions {output}, the program's stdout becomes the result.
type CommandRunner struct {
	argv []string
}

// NewCommandRunner validates argv and returns a runner for it.
func NewCommandRunner(argv []string) (*CommandRunner, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("agent: command runner needs a command")
	}
	return &CommandRunner{argv: append([]string(nil), argv...)}, nil
}

// Name implements TaskRunner.
func (*CommandRunner) Name() string { return RunnerCommand }

// Run implements TaskRunner.
func (r *CommandRunner) Run(ctx context.Context, inputPath, workDir string) (string, error) {
	out := filepath.Join(workDir, "output.txt")
	replacer := strings.NewReplacer("{input}", inputPath, "{output}", out, "{workdir}", workDir)

	args := make([]string, len(r.argv))
	toFile := false
	for i, a := range r.argv {
		if strings.Contains(a, "{output}") {
			toFile = true
		}
		args[i] = replacer.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // the operator configures the command
	cmd.Dir = workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("%s: %w", args[0], err)
	}

	if !toFile {
		if err := os.WriteFile(out, stdout.Bytes(), 0o600); err != nil {
			return "", fmt.Errorf("write output: %w", err)
		}
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("%s produced no output: %w", args[0], err)
	}
	return out, nil
}
