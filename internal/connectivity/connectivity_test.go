package connectivity

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSwitchEmitsOnTransitionsOnly(t *testing.T) {
	sw := NewSwitch(false)

	sw.SetOnline(false)
	sw.SetOnline(true)
	sw.SetOnline(true)
	sw.Foreground()
	sw.SetOnline(false)

	require.False(t, sw.Online())
	require.Equal(t, EventCameOnline, <-sw.Events())
	require.Equal(t, EventBecameVisible, <-sw.Events())
	require.Equal(t, EventWentOffline, <-sw.Events())
	require.Empty(t, sw.Events())
}

func TestSwitchDropsEventsWhenFull(t *testing.T) {
	sw := NewSwitch(true)
	for i := 0; i < 100; i++ {
		sw.Foreground()
	}
	require.Len(t, sw.Events(), cap(sw.events))
}

func TestProberFollowsHealthEndpoint(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sw := NewSwitch(false)
	prober := NewProber(srv.URL+"/", sw, WithLogger(log.New(io.Discard, "", 0)))

	require.True(t, prober.Probe(context.Background()))
	require.True(t, sw.Online())
	require.Equal(t, EventCameOnline, <-sw.Events())

	healthy.Store(false)
	require.False(t, prober.Probe(context.Background()))
	require.False(t, sw.Online())
	require.Equal(t, EventWentOffline, <-sw.Events())
}

func TestProberUnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sw := NewSwitch(true)
	prober := NewProber(url, sw, WithLogger(log.New(io.Discard, "", 0)))
	require.False(t, prober.Probe(context.Background()))
	require.False(t, sw.Online())
}

func TestProberUsesCustomCheck(t *testing.T) {
	var fail atomic.Bool
	sw := NewSwitch(false)
	prober := NewProber("", sw,
		WithLogger(log.New(io.Discard, "", 0)),
		WithCheck("postgres", func(context.Context) error {
			if fail.Load() {
				return errors.New("connection refused")
			}
			return nil
		}),
	)

	require.True(t, prober.Probe(context.Background()))
	fail.Store(true)
	require.False(t, prober.Probe(context.Background()))
	require.False(t, sw.Online())
}
