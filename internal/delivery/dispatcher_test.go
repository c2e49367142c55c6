package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign(body, "secret")
	assert.True(t, Verify(body, "secret", sig))
	assert.False(t, Verify(body, "wrong-secret", sig))
}

type recordingStatusRecorder struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (r *recordingStatusRecorder) RecordDeliverySuccess(ctx context.Context, targetID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, targetID)
	return nil
}
func (r *recordingStatusRecorder) RecordDeliveryFailure(ctx context.Context, targetID string, failures int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, targetID)
	return nil
}
func (r *recordingStatusRecorder) LogDelivery(ctx context.Context, targetID, eventID string, statusCode int, success bool, responseSnippet string) error {
	return nil
}

func TestDispatcher_SendBatch_SuccessOnFirstAttempt(t *testing.T) {
	var receivedSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	recorder := &recordingStatusRecorder{}
	d := NewDispatcher(5, DefaultDispatcherConfig(), recorder, zerolog.Nop())

	targets := []Target{{ID: "t1", URL: srv.URL, Secret: "sekrit"}}
	results := d.SendBatch(context.Background(), targets, "evt-1", map[string]string{"hello": "world"})

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, results[0].Attempts)
	assert.NotEmpty(t, receivedSig)
	assert.Equal(t, []string{"t1"}, recorder.successes)
}

func TestDispatcher_CircuitBreakerSkipsDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach server when circuit breaker is open")
	}))
	defer srv.Close()

	d := NewDispatcher(5, DefaultDispatcherConfig(), nil, zerolog.Nop())
	targets := []Target{{ID: "t1", URL: srv.URL, Secret: "x", ConsecutiveFailures: DefaultMaxConsecutiveFailures}}
	results := d.SendBatch(context.Background(), targets, "evt-1", map[string]string{})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestDispatcher_BoundedConcurrency(t *testing.T) {
	var mu sync.Mutex
	concurrent := 0
	maxSeen := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		concurrent++
		if concurrent > maxSeen {
			maxSeen = concurrent
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		concurrent--
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(2, DefaultDispatcherConfig(), nil, zerolog.Nop())
	var targets []Target
	for i := 0; i < 6; i++ {
		targets = append(targets, Target{ID: string(rune('a' + i)), URL: srv.URL, Secret: "x"})
	}
	results := d.SendBatch(context.Background(), targets, "evt-1", map[string]string{})
	require.Len(t, results, 6)
	assert.LessOrEqual(t, maxSeen, 2)
}
