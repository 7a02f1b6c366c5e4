package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) statusBody {
	t.Helper()
	var body statusBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func get(s *Service, endpoint func(http.ResponseWriter, *http.Request)) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	endpoint(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func TestReadyAfterGateAndProbes(t *testing.T) {
	s := New()
	s.Readiness("db", time.Second, func(context.Context) error { return nil })
	s.SetReady(true)
	s.pollOnce(context.Background())

	rec := get(s, s.ReadyEndpoint)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeStatus(t, rec).Status)
}

func TestNotReadyUntilGateOpens(t *testing.T) {
	s := New()
	s.pollOnce(context.Background())

	rec := get(s, s.ReadyEndpoint)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decodeStatus(t, rec)
	assert.Equal(t, "unavailable", body.Status)
	assert.Contains(t, body.Failing, "service")
}

func TestProbeTripsAfterConsecutiveFailures(t *testing.T) {
	s := New()
	fail := true
	s.Readiness("redis", time.Second, func(context.Context) error {
		if fail {
			return errors.New("connection refused")
		}
		return nil
	})
	s.SetReady(true)

	// Two failures are tolerated.
	s.pollOnce(context.Background())
	s.pollOnce(context.Background())
	assert.Equal(t, http.StatusOK, get(s, s.ReadyEndpoint).Code)

	// The third trips the probe.
	s.pollOnce(context.Background())
	rec := get(s, s.ReadyEndpoint)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "connection refused", decodeStatus(t, rec).Failing["redis"])

	// A single success recovers.
	fail = false
	s.pollOnce(context.Background())
	assert.Equal(t, http.StatusOK, get(s, s.ReadyEndpoint).Code)
}

func TestLivenessIndependentOfReadiness(t *testing.T) {
	s := New()
	s.Liveness("goroutines", time.Second, GoroutineBudget(1_000_000))
	s.Readiness("db", time.Second, func(context.Context) error { return errors.New("down") })
	s.pollOnce(context.Background())
	s.pollOnce(context.Background())
	s.pollOnce(context.Background())

	assert.Equal(t, http.StatusOK, get(s, s.LiveEndpoint).Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(s, s.ReadyEndpoint).Code)
}

func TestProbeTimeoutPropagates(t *testing.T) {
	s := New()
	s.Readiness("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.SetReady(true)

	for range tripAfter {
		s.pollOnce(context.Background())
	}
	rec := get(s, s.ReadyEndpoint)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decodeStatus(t, rec).Failing["slow"], "context deadline exceeded")
}

func TestGoroutineBudget(t *testing.T) {
	assert.NoError(t, GoroutineBudget(1_000_000)(context.Background()))
	assert.Error(t, GoroutineBudget(1)(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	s := New()
	polled := make(chan struct{}, 1)
	s.Liveness("tick", time.Second, func(context.Context) error {
		select {
		case polled <- struct{}{}:
		default:
		}
		return nil
	})

	s.Start(context.Background(), 5*time.Millisecond)
	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("probe never polled")
	}
	s.Stop()
	s.Stop() // idempotent
}
