package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/luaurun/internal/cloud"
	"github.com/3cpo-dev/luaurun/internal/config"
	"github.com/3cpo-dev/luaurun/internal/history"
	"github.com/3cpo-dev/luaurun/internal/poll"
)

var (
	// ErrTaskFailed means the task ended in any state other than COMPLETE. It has already been reported.
	ErrTaskFailed = errors.New("task did not complete")
	// ErrInvalidInput means a local input file is missing or unreadable. Raised before any request.
	ErrInvalidInput = errors.New("invalid input")
)

// API is the subset of cloud.Client the workflow drives.
type API interface {
	UploadPlace(ctx context.Context, path string, publish bool) (*int64, error)
	CreateTask(ctx context.Context, script string, version *int64) (*cloud.Task, error)
	GetLogs(ctx context.Context, path string) (string, error)
}

// Recorder stores finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, r history.Run) (int64, error)
}

// Options of a full run.
type Options struct {
	PlaceFile  string
	ScriptFile string
	Publish    bool
	// LogOutput and ResultOutput redirect task logs and JSON results to files when set.
	LogOutput    string
	ResultOutput string
}

// Runner sequences upload, task creation, polling and reporting.
type Runner struct {
	api      API
	poller   *poll.Poller
	creds    config.Credentials
	recorder Recorder
	clock    clockwork.Clock
	logger   zerolog.Logger
	stdout   io.Writer
	stderr   io.Writer
}

type Option func(*Runner)

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

func WithClock(clock clockwork.Clock) Option {
	return func(r *Runner) { r.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

func NewRunner(api API, poller *poll.Poller, creds config.Credentials, opts ...Option) *Runner {
	r := &Runner{
		api:    api,
		poller: poller,
		creds:  creds,
		clock:  clockwork.NewRealClock(),
		logger: log.Logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run uploads the place, runs the script against the new version and reports logs and results.
// It returns ErrTaskFailed when the task finished in a state other than COMPLETE.
func (r *Runner) Run(ctx context.Context, opts Options) (*cloud.Task, error) {
	script, err := r.readInputs(opts.PlaceFile, opts.ScriptFile)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("file", opts.PlaceFile).Bool("publish", opts.Publish).Msg("Uploading place")
	task, err := r.execute(ctx, opts.PlaceFile, script, opts.Publish)
	if err != nil {
		return nil, err
	}

	if err := r.handleLogs(ctx, task, opts.LogOutput); err != nil {
		return task, err
	}
	if task.State == cloud.StateComplete {
		return task, r.handleSuccess(task, opts.ResultOutput)
	}
	r.handleFailure(task)
	return task, ErrTaskFailed
}

// Exec is the minimal entry point: same sequence as Run, logs go to stdout followed by a one-line verdict.
// Empty logs and the error payload of a failed task are reported like Run does.
func (r *Runner) Exec(ctx context.Context, placeFile, scriptFile string) (*cloud.Task, error) {
	script, err := r.readInputs(placeFile, scriptFile)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(r.stdout, "Uploading place to Roblox")
	task, err := r.execute(ctx, placeFile, script, false)
	if err != nil {
		return nil, err
	}
	logs, err := r.api.GetLogs(ctx, task.Path)
	if err != nil {
		return task, err
	}
	if logs == "" {
		r.logger.Info().Msg("The task did not produce any logs")
	} else {
		fmt.Fprintln(r.stdout, strings.TrimRight(logs, "\n"))
	}

	if task.State == cloud.StateComplete {
		fmt.Fprintln(r.stdout, "Lua task completed successfully")
		return task, nil
	}
	r.handleFailure(task)
	fmt.Fprintln(r.stderr, "Luau task failed")
	return task, ErrTaskFailed
}

// execute uploads, creates the task bound to the uploaded version and waits for a terminal state.
func (r *Runner) execute(ctx context.Context, placeFile, script string, publish bool) (*cloud.Task, error) {
	start := r.clock.Now()
	version, err := r.api.UploadPlace(ctx, placeFile, publish)
	if err != nil {
		return nil, err
	}
	if version != nil {
		r.logger.Info().Int64("version", *version).Msg("Place uploaded")
	} else {
		r.logger.Info().Msg("Place uploaded, no version returned; running against the latest version")
	}

	task, err := r.api.CreateTask(ctx, script, version)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Msgf("Task created, path: %s", task.Path)

	task, err = r.poller.Wait(ctx, task.Path)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Msgf("Task is now in %s state", task.State)
	r.record(ctx, start, version, task)
	return task, nil
}

func (r *Runner) record(ctx context.Context, start time.Time, version *int64, task *cloud.Task) {
	if r.recorder == nil {
		return
	}
	_, err := r.recorder.RecordRun(ctx, history.Run{
		StartedAt:    start,
		FinishedAt:   r.clock.Now(),
		UniverseID:   r.creds.UniverseID,
		PlaceID:      r.creds.PlaceID,
		PlaceVersion: version,
		TaskPath:     task.Path,
		State:        string(task.State),
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("Could not record run history")
	}
}

// readInputs checks the place file and reads the script before anything is sent.
func (r *Runner) readInputs(placeFile, scriptFile string) (string, error) {
	info, err := os.Stat(placeFile)
	if err != nil {
		return "", inputError(err, placeFile, "place")
	}
	if info.IsDir() {
		return "", inputError(fs.ErrInvalid, placeFile, "place")
	}
	info, err = os.Stat(scriptFile)
	if err == nil && info.IsDir() {
		return "", inputError(fs.ErrInvalid, scriptFile, "script")
	}
	script, err := os.ReadFile(scriptFile)
	if err != nil {
		return "", inputError(err, scriptFile, "script")
	}
	return string(script), nil
}

func inputError(err error, path, description string) error {
	var msg string
	switch {
	case errors.Is(err, fs.ErrNotExist):
		msg = fmt.Sprintf("%s file not found: %s", description, path)
	case errors.Is(err, fs.ErrPermission):
		msg = fmt.Sprintf("permission denied to read %s file: %s", description, path)
	case errors.Is(err, fs.ErrInvalid):
		msg = fmt.Sprintf("invalid %s file: %s is a directory", description, path)
	default:
		msg = fmt.Sprintf("cannot read %s file %s: %s", description, path, err)
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
