package cloud

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/luaurun/internal/telemetry"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 1 * time.Second
)

// Requester performs HTTP requests with a fixed number of attempts and a constant wait between them.
type Requester struct {
	client   *resty.Client
	clock    clockwork.Clock
	metrics  *telemetry.Metrics
	attempts int
	delay    time.Duration
}

type RequesterOption func(*Requester)

// WithClock replaces the real clock used for waits between attempts.
func WithClock(clock clockwork.Clock) RequesterOption {
	return func(r *Requester) { r.clock = clock }
}

// WithRetry sets the total number of attempts and the wait between them.
func WithRetry(attempts int, delay time.Duration) RequesterOption {
	return func(r *Requester) {
		if attempts < 1 {
			attempts = 1
		}
		r.attempts = attempts
		r.delay = delay
	}
}

func WithMetrics(m *telemetry.Metrics) RequesterOption {
	return func(r *Requester) { r.metrics = m }
}

// NewRequester wraps httpClient. A nil httpClient means http.Client{} without a timeout.
func NewRequester(httpClient *http.Client, opts ...RequesterOption) *Requester {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	rc := resty.NewWithClient(httpClient)
	rc.SetLogger(restyLogger{log.Logger})
	r := &Requester{
		client:   rc,
		clock:    clockwork.NewRealClock(),
		metrics:  telemetry.NewMetrics(),
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Requester) Metrics() *telemetry.Metrics { return r.metrics }

// Get issues a GET request.
func (r *Requester) Get(ctx context.Context, url string, headers map[string]string) (*resty.Response, error) {
	return r.Do(ctx, http.MethodGet, url, headers, nil)
}

// Post issues a POST request with body.
func (r *Requester) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*resty.Response, error) {
	return r.Do(ctx, http.MethodPost, url, headers, body)
}

// Do sends the request, retrying any failure until attempts run out. An empty method means GET
// without a body and POST with one. A TLS trust failure aborts at once with ErrCertificateVerify.
// 4xx/5xx responses come back as *StatusError once retries are exhausted.
func (r *Requester) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*resty.Response, error) {
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	var res *resty.Response
	attempt := 0
	operation := func() error {
		attempt++
		start := r.clock.Now()
		req := r.client.R().SetContext(ctx).SetHeaders(headers)
		if body != nil {
			req.SetBody(body)
		}
		resp, err := req.Execute(method, url)
		r.metrics.RecordRequest(r.clock.Since(start))
		if err != nil {
			if isCertificateError(err) {
				return backoff.Permanent(fmt.Errorf("%w: %w", ErrCertificateVerify, err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if resp.IsError() {
			return &StatusError{Method: method, URL: url, Code: resp.StatusCode(), Body: resp.Body()}
		}
		res = resp
		return nil
	}
	notify := func(err error, next time.Duration) {
		r.metrics.RecordRetry()
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", r.attempts).
			Dur("delay", next).
			Str("url", url).
			Msg("Retrying error")
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(r.delay)
	b = backoff.WithMaxRetries(b, uint64(r.attempts-1))
	b = backoff.WithContext(b, ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, newClockTimer(r.clock)); err != nil {
		r.metrics.RecordError()
		return nil, err
	}
	return res, nil
}

// restyLogger routes resty's own messages into zerolog.
type restyLogger struct{ l zerolog.Logger }

func (l restyLogger) Errorf(format string, v ...interface{}) { l.l.Error().Msgf(format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.l.Warn().Msgf(format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.l.Debug().Msgf(format, v...) }
