package live

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/metrics"
)

// fakeChannel records everything sent to it.
type fakeChannel struct {
	mu           sync.Mutex
	received     chan []byte
	sendErr      error
	closeErr     error
	panicOnClose bool
	closed       bool
	closeCode    int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{received: make(chan []byte, 64)}
}

func (f *fakeChannel) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.received <- payload
	return nil
}

func (f *fakeChannel) Close(code int, _ string) error {
	if f.panicOnClose {
		panic("transport exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrChannelClosed
	}
	f.closed = true
	f.closeCode = code
	return f.closeErr
}

func (f *fakeChannel) code() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func newTestRegistry(clock clockwork.Clock) *Registry {
	return NewRegistry(clock, newTestMetrics(), zap.NewNop())
}

// waitBatch reads the next message from ch and decodes it as batch_updates.
func waitBatch(t *testing.T, ch *fakeChannel) BatchMessage {
	t.Helper()
	select {
	case payload := <-ch.received:
		var msg BatchMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		require.Equal(t, MsgBatchUpdates, msg.Type)
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch")
		return BatchMessage{}
	}
}

func assertNoMessage(t *testing.T, ch *fakeChannel) {
	t.Helper()
	select {
	case payload := <-ch.received:
		t.Fatalf("unexpected message: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func entityIDs(events []UpdateEvent) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.EntityID)
	}
	return ids
}

// gatedChannel blocks every Send until gate is closed and reports each
// Send on entered.
type gatedChannel struct {
	*fakeChannel
	gate    chan struct{}
	entered chan struct{}
}

func newGatedChannel() *gatedChannel {
	return &gatedChannel{
		fakeChannel: newFakeChannel(),
		gate:        make(chan struct{}),
		entered:     make(chan struct{}, 8),
	}
}

func (g *gatedChannel) Send(ctx context.Context, payload []byte) error {
	g.entered <- struct{}{}
	<-g.gate
	return g.fakeChannel.Send(ctx, payload)
}

func waitEntered(t *testing.T, g *gatedChannel) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send")
	}
}

func assertNotEntered(t *testing.T, g *gatedChannel) {
	t.Helper()
	select {
	case <-g.entered:
		t.Fatal("second batch dispatched while the first was still in flight")
	case <-time.After(50 * time.Millisecond):
	}
}
