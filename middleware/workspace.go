package middleware

import (
	"context"
	"fmt"
	"os"

	"github.com/blakecragen/cluster/job"
)

type workDirKey struct{}

// Workspace creates a scratch directory for each task under root (the OS
// temp dir when empty) and removes it when the task returns. The runner
// finds it with WorkDir.
func Workspace(root string) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		dir, err := os.MkdirTemp(root, "job-"+j.ID.String()+"-")
		if err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		defer os.RemoveAll(dir)
		return next(context.WithValue(ctx, workDirKey{}, dir))
	}
}

// WorkDir returns the scratch directory installed by Workspace.
func WorkDir(ctx context.Context) (string, bool) {
	dir, ok := ctx.Value(workDirKey{}).(string)
	return dir, ok
}
