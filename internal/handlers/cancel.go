package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/jobs"
)

// errJobCancelled stops a handler whose job left the running status.
var errJobCancelled = errors.New("job no longer running")

// ensureRunning returns errJobCancelled when the job was cancelled while the handler ran.
func ensureRunning(ctx context.Context, task jobs.Task) error {
	running, err := task.StillRunning(ctx)
	if err != nil {
		return fmt.Errorf("check job status: %w", err)
	}
	if !running {
		return errJobCancelled
	}
	return nil
}
