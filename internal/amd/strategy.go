package amd

import (
	"context"
	"fmt"
	"net/url"

	"github.com/callprobe/callprobe/internal/database/models"
	"github.com/callprobe/callprobe/internal/provider"
)

// InitiateRequest carries everything a strategy needs to place one call. The
// local call id is always threaded into the callback addresses so the
// resolver's fast path applies to every asynchronous result.
type InitiateRequest struct {
	CallID     string
	ToNumber   string
	FromNumber string
}

// Strategy initiates answering-machine detection for one call. Each variant
// encapsulates how it tells the provider to perform detection and where it
// expects asynchronous results to be delivered.
type Strategy interface {
	Initiate(ctx context.Context, req InitiateRequest) (providerCallID string, err error)
}

// StrategyConfig holds the deployment-specific parameters the variants need.
type StrategyConfig struct {
	// PublicURL is the externally reachable base URL of this service, used
	// to build webhook callback addresses.
	PublicURL string
	// TrunkDomain is the SIP domain of the intermediary detection trunk.
	TrunkDomain string
	// StreamAppSID is the provider application that connects answered calls
	// to the media stream endpoint.
	StreamAppSID string
	// DetectionTimeout is the provider-side detection window in seconds.
	DetectionTimeout int
}

// NewStrategies builds the full strategy set keyed by variant.
func NewStrategies(client *provider.Client, cfg StrategyConfig) map[models.Strategy]Strategy {
	return map[models.Strategy]Strategy{
		models.StrategyNative: &nativeStrategy{client: client, cfg: cfg},
		models.StrategyTrunk:  &trunkStrategy{client: client, cfg: cfg},
		models.StrategyStream: &streamStrategy{client: client, cfg: cfg},
	}
}

// callbackURL builds a webhook address parameterized by the local call id.
func callbackURL(publicURL, path, callID string) string {
	return publicURL + path + "?call_id=" + url.QueryEscape(callID)
}

// nativeStrategy asks the provider to perform detection internally and report
// the decision through the status callback webhook.
type nativeStrategy struct {
	client *provider.Client
	cfg    StrategyConfig
}

func (s *nativeStrategy) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	callback := callbackURL(s.cfg.PublicURL, "/api/v1/amd/callback", req.CallID)

	sid, err := s.client.CreateCall(ctx, provider.CallParams{
		To:                      req.ToNumber,
		From:                    req.FromNumber,
		URL:                     callback,
		StatusCallback:          callback,
		StatusCallbackEvents:    []string{"initiated", "ringing", "answered", "completed"},
		MachineDetection:        "Enable",
		AsyncAMD:                true,
		AsyncAMDStatusCallback:  callback,
		MachineDetectionTimeout: s.cfg.DetectionTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("native detection: %w", err)
	}
	return sid, nil
}

// trunkStrategy routes the call through an intermediary signaling layer that
// performs its own detection and reports via the trunk event webhook.
type trunkStrategy struct {
	client *provider.Client
	cfg    StrategyConfig
}

func (s *trunkStrategy) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	events := callbackURL(s.cfg.PublicURL, "/api/v1/amd/events", req.CallID)

	sid, err := s.client.CreateCall(ctx, provider.CallParams{
		To:             "sip:" + req.ToNumber + "@" + s.cfg.TrunkDomain,
		From:           req.FromNumber,
		URL:            events,
		StatusCallback: events,
	})
	if err != nil {
		return "", fmt.Errorf("trunk detection: %w", err)
	}
	return sid, nil
}

// streamStrategy connects the answered call to the media stream endpoint;
// detection happens out of process over the audio relay, not via a callback.
type streamStrategy struct {
	client *provider.Client
	cfg    StrategyConfig
}

func (s *streamStrategy) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	callback := callbackURL(s.cfg.PublicURL, "/api/v1/amd/callback", req.CallID)

	sid, err := s.client.CreateCall(ctx, provider.CallParams{
		To:                   req.ToNumber,
		From:                 req.FromNumber,
		ApplicationSID:       s.cfg.StreamAppSID,
		StatusCallback:       callback,
		StatusCallbackEvents: []string{"initiated", "ringing", "answered", "completed"},
	})
	if err != nil {
		return "", fmt.Errorf("stream detection: %w", err)
	}
	return sid, nil
}
