package amd

import (
	"context"
	"log/slog"

	"github.com/callprobe/callprobe/internal/database"
)

// Resolver maps a partial identity carried by an inbound event to the
// authoritative local call identifier. The telephony side may open a media
// channel before the status webhook has written the provider call id onto the
// record, and vice versa, so no single identity fact is guaranteed available
// at any given moment.
type Resolver struct {
	calls  database.CallRepository
	logger *slog.Logger
}

// NewResolver creates a correlation resolver over the call store.
func NewResolver(calls database.CallRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		calls:  calls,
		logger: logger.With("subsystem", "resolver"),
	}
}

// Resolve returns the local call identifier for the given identity hints.
// Resolution order: a valid local id wins outright; otherwise the most
// recently created record carrying the provider call id; otherwise
// unresolved (ok == false). Unresolved is a normal outcome, not an error —
// callers retry on the next event that carries more identity.
func (r *Resolver) Resolve(ctx context.Context, localID, providerCallID string) (string, bool, error) {
	if localID != "" {
		call, err := r.calls.GetByID(ctx, localID)
		if err != nil {
			return "", false, err
		}
		if call != nil {
			return call.ID, true, nil
		}
		r.logger.Debug("local call id not found, falling back to provider id",
			"call_id", localID,
			"provider_call_id", providerCallID,
		)
	}

	if providerCallID != "" {
		call, err := r.calls.GetByProviderCallID(ctx, providerCallID)
		if err != nil {
			return "", false, err
		}
		if call != nil {
			return call.ID, true, nil
		}
	}

	return "", false, nil
}
