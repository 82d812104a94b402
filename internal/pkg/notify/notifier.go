package notify

import (
	"context"

	"github.com/mkessels/paybridge/internal/pkg/webhook"
)

// Notifier is the human-review escalation channel. Delivery is fire-and
// forget, at most once per occurrence; callers log failures but never fail
// order processing on them.
type Notifier interface {
	// ManualReview flags a payment event that cannot be reconciled
	// automatically, e.g. one missing its order reference.
	ManualReview(ctx context.Context, event webhook.PaymentEvent, reason string) error
	// DeadLetter flags a payment event whose retry budget ran out with the
	// order still absent.
	DeadLetter(ctx context.Context, event webhook.PaymentEvent, attempt int) error
}
