package workflow

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/3cpo-dev/luaurun/internal/cloud"
)

// handleLogs fetches the task logs and writes them to path, or to the log stream when path is empty.
func (r *Runner) handleLogs(ctx context.Context, task *cloud.Task, path string) error {
	logs, err := r.api.GetLogs(ctx, task.Path)
	if err != nil {
		return err
	}
	if logs == "" {
		r.logger.Info().Msg("The task did not produce any logs")
		return nil
	}
	if path == "" {
		r.logger.Info().Msgf("Task logs:\n%s", strings.TrimSpace(logs))
		return nil
	}
	if err := os.WriteFile(path, []byte(logs), 0o644); err != nil {
		return fmt.Errorf("write task logs: %w", err)
	}
	r.logger.Info().Msgf("Task logs written to %s", path)
	return nil
}

// handleSuccess writes the task results as JSON to path, or to stdout when path is empty.
func (r *Runner) handleSuccess(task *cloud.Task, path string) error {
	results := task.Results()
	if results == nil {
		r.logger.Info().Msg("The task did not return any results")
		return nil
	}
	if path == "" {
		r.logger.Info().Msg("Task output:")
		fmt.Fprintln(r.stdout, string(results))
		return nil
	}
	if err := os.WriteFile(path, results, 0o644); err != nil {
		return fmt.Errorf("write task results: %w", err)
	}
	r.logger.Info().Msgf("Task results written to %s", path)
	return nil
}

func (r *Runner) handleFailure(task *cloud.Task) {
	payload := string(task.Error)
	if payload == "" {
		payload = "null"
	}
	r.logger.Error().Str("state", string(task.State)).Msgf("Task failed, error:\n%s", payload)
}
