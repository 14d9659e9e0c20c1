package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/notifier/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap/zaptest"
)

type testLifecycle struct {
	hooks []fx.Hook
}

func (l *testLifecycle) Append(h fx.Hook) {
	l.hooks = append(l.hooks, h)
}

func (l *testLifecycle) start(t *testing.T) {
	t.Helper()
	for _, h := range l.hooks {
		if h.OnStart != nil {
			require.NoError(t, h.OnStart(context.Background()))
		}
	}
}

func (l *testLifecycle) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range l.hooks {
		if h.OnStop != nil {
			require.NoError(t, h.OnStop(ctx))
		}
	}
}

type flakyProvider struct {
	mu       sync.Mutex
	failures int
	attempts int
	sent     []domain.Message
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) Send(_ context.Context, msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.failures {
		return errors.New("relay down")
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *flakyProvider) snapshot() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts, len(p.sent)
}

func newTestQueue(t *testing.T, provider domain.Provider) (*Queue, *testLifecycle) {
	t.Helper()

	holder := &config.ReconcileConfigHolder{}
	cfg := config.DefaultReconcileConfig()
	cfg.Notifier.MaxAttempts = 3
	cfg.Notifier.Backoff = time.Millisecond
	cfg.Notifier.QueueSize = 8
	holder.Store(cfg)

	lc := &testLifecycle{}
	q := NewQueue(Params{
		Log:       zaptest.NewLogger(t),
		Holder:    holder,
		Provider:  provider,
		Lifecycle: lc,
	})
	return q, lc
}

func testMessage(node *snowflake.Node) domain.Message {
	return domain.Message{
		OrderID:   node.Generate(),
		Reference: "01JB5G4R4T",
		PayerID:   "payer_1",
		SubjectID: "course_go",
		Amount:    999,
		Currency:  "USD",
		GrantedAt: time.Now().UTC(),
	}
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	provider := &flakyProvider{failures: 2}
	q, lc := newTestQueue(t, provider)
	node, _ := snowflake.NewNode(1)

	lc.start(t)
	q.Enqueue(context.Background(), testMessage(node))

	assert.Eventually(t, func() bool {
		attempts, sent := provider.snapshot()
		return attempts == 3 && sent == 1
	}, 5*time.Second, 10*time.Millisecond)

	lc.stop(t)
}

func TestDeliveryAbandonedAfterRetries(t *testing.T) {
	provider := &flakyProvider{failures: 100}
	q, lc := newTestQueue(t, provider)
	node, _ := snowflake.NewNode(1)

	lc.start(t)
	q.Enqueue(context.Background(), testMessage(node))

	// Exactly MaxAttempts tries, then the message is dropped without error.
	assert.Eventually(t, func() bool {
		attempts, sent := provider.snapshot()
		return attempts == 3 && sent == 0
	}, 5*time.Second, 10*time.Millisecond)

	// The worker keeps going for later messages.
	q.Enqueue(context.Background(), testMessage(node))
	assert.Eventually(t, func() bool {
		attempts, _ := provider.snapshot()
		return attempts == 6
	}, 5*time.Second, 10*time.Millisecond)

	lc.stop(t)
}

func TestShutdownDrainsQueue(t *testing.T) {
	provider := &flakyProvider{}
	q, lc := newTestQueue(t, provider)
	node, _ := snowflake.NewNode(1)

	lc.start(t)
	for i := 0; i < 5; i++ {
		q.Enqueue(context.Background(), testMessage(node))
	}
	lc.stop(t)

	_, sent := provider.snapshot()
	assert.Equal(t, 5, sent)
}

func TestNilQueueEnqueueIsSafe(t *testing.T) {
	var q *Queue
	node, _ := snowflake.NewNode(1)
	q.Enqueue(context.Background(), testMessage(node))
}
