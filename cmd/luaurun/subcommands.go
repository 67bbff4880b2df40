package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/luaurun/internal/cloud"
	"github.com/3cpo-dev/luaurun/internal/config"
	"github.com/3cpo-dev/luaurun/internal/history"
	"github.com/3cpo-dev/luaurun/internal/poll"
	"github.com/3cpo-dev/luaurun/internal/workflow"
)

// app is everything a run needs, built once from flags, config file and environment.
type app struct {
	cfg    config.Config
	creds  config.Credentials
	client *cloud.Client
	store  *history.Store
}

// Resolve config, credentials and the API client
func resolveApp(cmd *cobra.Command, withHistory bool) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	envFile, _ := cmd.Flags().GetString("env-file")
	dotenv, err := config.LoadDotEnv(envFile)
	if err != nil {
		return nil, err
	}
	creds, err := config.LoadCredentials(config.Lookup(dotenv))
	if err != nil {
		return nil, err
	}

	requester := cloud.NewRequester(
		&http.Client{Timeout: cfg.RequestTimeout()},
		cloud.WithRetry(cfg.Retry.Attempts, cfg.RetryDelay()),
	)
	a := &app{cfg: cfg, creds: creds, client: cloud.NewClient(cfg.BaseURL, creds, requester)}
	if withHistory && cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.History.Path).Msg("Run history disabled")
		} else {
			a.store = store
		}
	}
	return a, nil
}

func (a *app) runner(cmd *cobra.Command) *workflow.Runner {
	p := poll.New(a.client, poll.WithInterval(a.cfg.PollInterval()))
	opts := []workflow.Option{workflow.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())}
	if a.store != nil {
		opts = append(opts, workflow.WithRecorder(a.store))
	}
	return workflow.NewRunner(a.client, p, a.creds, opts...)
}

func (a *app) Close() {
	log.Debug().Object("requests", a.client.Requester().Metrics().GetStats()).Msg("Request stats")
	if a.store != nil {
		_ = a.store.Close()
	}
}

// withTimeout bounds ctx when d > 0. Without it polling waits as long as the task runs.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// Upload a place and run a script against it
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <place-file> <script-file>",
		Short: "Upload a place, run a Luau script against it and report logs and results",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			publish, _ := cmd.Flags().GetBool("publish")
			output, _ := cmd.Flags().GetString("output")
			logOutput, _ := cmd.Flags().GetString("log-output")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			noHistory, _ := cmd.Flags().GetBool("no-history")
			a, err := resolveApp(cmd, !noHistory)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()
			_, err = a.runner(cmd).Run(ctx, workflow.Options{
				PlaceFile:    args[0],
				ScriptFile:   args[1],
				Publish:      publish,
				LogOutput:    logOutput,
				ResultOutput: output,
			})
			return err
		},
	}
	cmd.Flags().Bool("publish", false, "publish the uploaded version instead of only saving it")
	cmd.Flags().StringP("output", "o", "", "write task results as JSON to this file instead of stdout")
	cmd.Flags().String("log-output", "", "write task logs to this file instead of the log stream")
	cmd.Flags().Duration("timeout", 0, "give up waiting for the task after this long (0 waits forever)")
	cmd.Flags().Bool("no-history", false, "do not record this run in the history database")
	return cmd
}

// Minimal run: print logs and a verdict
func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <place-file> <script-file>",
		Short: "Upload a place, run a Luau script and print its logs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			noHistory, _ := cmd.Flags().GetBool("no-history")
			a, err := resolveApp(cmd, !noHistory)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()
			_, err = a.runner(cmd).Exec(ctx, args[0], args[1])
			return err
		},
	}
	cmd.Flags().Duration("timeout", 0, "give up waiting for the task after this long (0 waits forever)")
	cmd.Flags().Bool("no-history", false, "do not record this run in the history database")
	return cmd
}

// List recorded runs
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Ping(cmd.Context()); err != nil {
				return err
			}
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				version := "latest"
				if r.PlaceVersion != nil {
					version = fmt.Sprintf("v%d", *r.PlaceVersion)
				}
				fmt.Fprintf(out, "%s\t%s\t%s/%s@%s\t%s\t%s\n",
					r.StartedAt.Local().Format(time.RFC3339), r.State, r.UniverseID, r.PlaceID, version,
					r.FinishedAt.Sub(r.StartedAt).Round(time.Second), r.TaskPath)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to show (0 for all)")
	return cmd
}
