package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	ua "github.com/panyam/userauth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	bus := ua.NewEventBus(logger)
	bus.Subscribe(NewLogSink(logger))
	bus.Emit(context.Background(), ua.EventAfterLogin, &ua.User{ID: "u1", Username: "alice", PasswordHash: "secret-digest"}, map[string]any{"provider": "local"})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "auth event", rec["msg"])
	assert.Equal(t, "after_login", rec["event"])
	assert.Equal(t, "u1", rec["user_id"])
	assert.Equal(t, "local", rec["provider"])
	assert.NotContains(t, buf.String(), "secret-digest")
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewMetricsSink(reg)

	bus := ua.NewEventBus(nil)
	bus.Subscribe(sink)
	bus.Emit(context.Background(), ua.EventAfterRegister, nil, nil)
	bus.Emit(context.Background(), ua.EventAfterRegister, nil, nil)
	bus.Emit(context.Background(), ua.EventOnExpiredToken, nil, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues("after_register")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("on_expired_token")))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.events.WithLabelValues("after_logout")))
	assert.Equal(t, len(ua.AllEventKinds()), testutil.CollectAndCount(sink.events))
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	keys     []string
	bodies   [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, key string, body []byte, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

// stalledPublisher blocks every publish until its context ends
type stalledPublisher struct {
	calls atomic.Int32
}

func (p *stalledPublisher) Publish(ctx context.Context, _ string, _ []byte, _ map[string]string) error {
	p.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func newAMQPSink(t *testing.T, pub Publisher, prefix string, opts ...AMQPOption) *AMQPSink {
	t.Helper()
	sink := NewAMQPSink(pub, prefix, opts...)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestAMQPSink_RetriesTransientFailures(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	sink := newAMQPSink(t, pub, "", WithRetry(3, time.Millisecond))

	err := sink.Publish(context.Background(), ua.Event{
		Kind: ua.EventAfterChangePassword,
		User: &ua.User{ID: "u1", Username: "alice", PasswordHash: "digest"},
		At:   time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, pub.keys, 1)
	assert.Equal(t, "userauth.after_change_password", pub.keys[0])

	var msg map[string]any
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, "u1", msg["user_id"])
	assert.NotContains(t, string(pub.bodies[0]), "digest")
}

func TestAMQPSink_GivesUp(t *testing.T) {
	pub := &fakePublisher{failures: 10}
	sink := newAMQPSink(t, pub, "auth", WithRetry(2, time.Millisecond))

	err := sink.Publish(context.Background(), ua.Event{Kind: ua.EventAfterLogout})
	require.Error(t, err)
	assert.Equal(t, "EVENT_PUBLISH_FAILED", ua.ErrorCode(err))
	assert.Equal(t, 7, pub.failures, "one attempt plus two retries")
}

func TestAMQPSink_DeliversInBackground(t *testing.T) {
	pub := &fakePublisher{failures: 1}
	sink := NewAMQPSink(pub, "auth", WithRetry(3, time.Millisecond))

	bus := ua.NewEventBus(nil)
	bus.Subscribe(sink)
	bus.Emit(context.Background(), ua.EventAfterRegister, &ua.User{ID: "u1"}, nil)
	bus.Emit(context.Background(), ua.EventAfterLogin, &ua.User{ID: "u1"}, nil)

	require.NoError(t, sink.Close(), "close drains the queue")
	assert.Equal(t, []string{"auth.after_register", "auth.after_login"}, pub.published())

	err := sink.HandleEvent(context.Background(), ua.Event{Kind: ua.EventAfterLogout})
	assert.Equal(t, "EVENT_SINK_CLOSED", ua.ErrorCode(err))
	assert.NoError(t, sink.Close(), "close is idempotent")
}

func TestAMQPSink_StalledBrokerDoesNotBlockEmitter(t *testing.T) {
	pub := &stalledPublisher{}
	sink := NewAMQPSink(pub, "auth",
		WithRetry(5, time.Second),
		WithQueueSize(1),
		WithDrainTimeout(20*time.Millisecond),
	)

	bus := ua.NewEventBus(nil)
	bus.Subscribe(sink)

	start := time.Now()
	for i := 0; i < 5; i++ {
		bus.Emit(context.Background(), ua.EventAfterLogin, &ua.User{ID: "u1"}, nil)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool { return pub.calls.Load() >= 1 }, time.Second, time.Millisecond)
	// with one event in flight the queue holds one more; the next is dropped
	var codes []string
	for i := 0; i < 2; i++ {
		codes = append(codes, ua.ErrorCode(sink.HandleEvent(context.Background(), ua.Event{Kind: ua.EventAfterLogin})))
	}
	assert.Contains(t, codes, "EVENT_QUEUE_FULL")

	closed := make(chan struct{})
	go func() {
		_ = sink.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not abandon the stalled publish")
	}
}

func TestNewRabbitMQPublisher_RequiresURL(t *testing.T) {
	_, err := NewRabbitMQPublisher(AMQPConfig{})
	assert.ErrorIs(t, err, ua.ErrValidation)
}
