package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNote() Notification {
	return Notification{
		At:             time.Unix(1700000000, 0),
		Reason:         "out_of_bounds",
		Candidate:      25000000,
		ReferencePrice: 6512345,
		Confidence:     120,
		Decimals:       2,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "sendMessage")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received), "decode request body")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), sampleNote()))
	require.Equal(t, "chat", received["chat_id"])
	require.NotEmpty(t, received["text"])
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	require.Error(t, notifier.Notify(context.Background(), sampleNote()), "ok=false should return an error")
}

func TestRenderMessage(t *testing.T) {
	text := RenderMessage(sampleNote())
	for _, want := range []string{"Reason: out_of_bounds", "Candidate: 250000.00", "Reference: 65123.45 ± 1.20", "2023-11-14T22:13:20Z"} {
		require.Contains(t, text, want)
	}
}

type recordingNotifier struct {
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func TestThrottledCooldownPerReason(t *testing.T) {
	rec := &recordingNotifier{}
	th := NewThrottled(rec, 30*time.Minute)
	now := time.Unix(0, 0)
	th.now = func() time.Time { return now }

	ctx := context.Background()
	stale := Notification{Reason: "stale_data"}
	bounds := Notification{Reason: "out_of_bounds"}

	_ = th.Notify(ctx, stale)
	_ = th.Notify(ctx, stale)
	_ = th.Notify(ctx, bounds)
	require.Len(t, rec.sent, 2)

	now = now.Add(31 * time.Minute)
	_ = th.Notify(ctx, stale)
	require.Len(t, rec.sent, 3, "cooldown should have expired")
}

func TestThrottledFailureDoesNotStartCooldown(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("down")}
	th := NewThrottled(rec, time.Hour)

	require.Error(t, th.Notify(context.Background(), Notification{Reason: "x"}), "delivery error should propagate")
	rec.err = nil
	require.NoError(t, th.Notify(context.Background(), Notification{Reason: "x"}), "retry should be delivered")
	require.Len(t, rec.sent, 1)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
