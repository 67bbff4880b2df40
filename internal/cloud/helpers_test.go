package cloud

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/jonboulle/clockwork"
)

// autoAdvance moves the fake clock forward by step every time something sleeps on it.
func autoAdvance(t *testing.T, clock *clockwork.FakeClock, step time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			clock.Advance(step)
		}
	}()
}

// sequence answers with each responder in turn and repeats the last one.
func sequence(responders ...httpmock.Responder) httpmock.Responder {
	i := 0
	return func(req *http.Request) (*http.Response, error) {
		r := responders[min(i, len(responders)-1)]
		i++
		return r(req)
	}
}

func newTestRequester(t *testing.T) (*Requester, *httpmock.MockTransport, *clockwork.FakeClock) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	clock := clockwork.NewFakeClock()
	autoAdvance(t, clock, DefaultDelay)
	r := NewRequester(&http.Client{Transport: mt}, WithClock(clock))
	return r, mt, clock
}
