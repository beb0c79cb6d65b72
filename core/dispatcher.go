package core

import (
	"context"

	"github.com/google/uuid"
)

// Initiator starts an authorization attempt for one provider.
type Initiator func(ctx context.Context, userID uuid.UUID) (string, error)

// Dispatcher maps a provider identifier coming from the UI back to that
// provider's initiator.
type Dispatcher struct {
	initiators map[Provider]Initiator
}

func NewDispatcher(c *Connector) *Dispatcher {
	d := &Dispatcher{initiators: make(map[Provider]Initiator, len(c.providers))}
	for p := range c.providers {
		provider := p
		d.initiators[provider] = func(ctx context.Context, userID uuid.UUID) (string, error) {
			return c.Authorize(ctx, userID, provider)
		}
	}
	return d
}

// Reconnect returns the authorization URL for providerID, or a FlowError of
// kind unsupported_provider.
func (d *Dispatcher) Reconnect(ctx context.Context, userID uuid.UUID, providerID string) (string, error) {
	provider, err := ParseProvider(providerID)
	if err != nil {
		return "", newFlowError(FailureUnsupportedProvider, Provider(providerID), "", err)
	}

	initiate, ok := d.initiators[provider]
	if !ok {
		return "", newFlowError(FailureUnsupportedProvider, provider, "provider not configured", ErrUnsupportedProvider)
	}
	return initiate(ctx, userID)
}
