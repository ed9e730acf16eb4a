package notify

import (
	"context"

	"github.com/vigilsec/vigil/internal/models"
)

// PushChannel is a placeholder for mobile push delivery. It reports a
// deterministic failure so attempts against it stay visible in outcomes
// instead of silently vanishing.
type PushChannel struct{}

// NewPushChannel returns the placeholder push transport.
func NewPushChannel() *PushChannel {
	return &PushChannel{}
}

// Name identifies the transport.
func (c *PushChannel) Name() models.ChannelKind {
	return models.ChannelPush
}

// Deliver always fails until a push provider is wired in.
func (c *PushChannel) Deliver(_ context.Context, _ models.Alert) Outcome {
	return failure(models.ChannelPush, ErrNotYetImplemented)
}
