package notifier

import (
	"context"

	"github.com/smallbiznis/enrollpay/internal/notifier/domain"
)

// NoopProvider accepts every message without delivering it. It keeps the
// queue wired in environments with no SMTP relay configured.
type NoopProvider struct{}

func (NoopProvider) Name() string { return "noop" }

func (NoopProvider) Send(ctx context.Context, _ domain.Message) error { return nil }
