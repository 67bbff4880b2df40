package poll

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/luaurun/internal/cloud"
)

const DefaultInterval = 3 * time.Second

// TaskGetter fetches the current state of a task.
type TaskGetter interface {
	GetTask(ctx context.Context, path string) (*cloud.Task, error)
}

// Poller re-fetches a task at a fixed interval until it leaves the PROCESSING state.
type Poller struct {
	getter   TaskGetter
	clock    clockwork.Clock
	interval time.Duration
	progress io.Writer
	logger   zerolog.Logger
}

type Option func(*Poller)

func WithClock(clock clockwork.Clock) Option {
	return func(p *Poller) { p.clock = clock }
}

func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithProgress sets where the dot per poll goes. Defaults to stderr.
func WithProgress(w io.Writer) Option {
	return func(p *Poller) { p.progress = w }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

func New(getter TaskGetter, opts ...Option) *Poller {
	p := &Poller{
		getter:   getter,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		progress: os.Stderr,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait blocks until the task at path reaches any state other than PROCESSING and returns it.
// There is no built-in limit; bound it with a context deadline.
func (p *Poller) Wait(ctx context.Context, path string) (*cloud.Task, error) {
	p.logger.Info().Msg("Waiting for task to finish...")
	polls := 0
	for {
		task, err := p.getter.GetTask(ctx, path)
		polls++
		if err != nil {
			p.endLine()
			return nil, err
		}
		if !task.Processing() {
			p.endLine()
			p.logger.Debug().Int("polls", polls).Str("state", string(task.State)).Msg("Task left processing state")
			return task, nil
		}
		fmt.Fprint(p.progress, ".")
		select {
		case <-ctx.Done():
			p.endLine()
			return nil, fmt.Errorf("wait for task %s: %w", path, ctx.Err())
		case <-p.clock.After(p.interval):
		}
	}
}

func (p *Poller) endLine() {
	fmt.Fprintln(p.progress)
}
