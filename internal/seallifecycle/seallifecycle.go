// Package seallifecycle implements the two operations an executor performs
// against a minted seal: verifying it before acting, and marking it
// executed afterward to prevent replay.
package seallifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/relayhq/relay/internal/ledger"
	"github.com/relayhq/relay/internal/model"
	"github.com/relayhq/relay/internal/relayerr"
	"github.com/relayhq/relay/internal/sealengine"
)

// sealStore is the narrow slice of ledger.Ledger this service depends on,
// letting tests substitute a hand-rolled in-memory store.
type sealStore interface {
	GetSeal(ctx context.Context, sealID string) (*model.Seal, error)
	GetManifest(ctx context.Context, id uuid.UUID) (*model.Manifest, error)
	MarkExecuted(ctx context.Context, sealID string) error
}

// verifier is the narrow slice of sealengine.Engine this service depends on.
type verifier interface {
	VerifySeal(s *model.Seal, m *model.Manifest) bool
}

// Service verifies and consumes seals.
type Service struct {
	ledger sealStore
	seals  verifier
}

// New creates a Service.
func New(led *ledger.Ledger, seals *sealengine.Engine) *Service {
	return &Service{ledger: led, seals: seals}
}

// VerifyResult mirrors the original SealVerificationResponse shape.
type VerifyResult struct {
	SealID         string
	Valid          bool
	Approved       bool
	Expired        bool
	AlreadyExecuted bool
	Reason         *string
	ManifestID     uuid.UUID
}

// Verify reports whether a seal is authentic, unexpired, unexecuted, and
// approved. Precedence when invalid, matching the original gateway:
// bad signature > denied > expired > already executed.
func (s *Service) Verify(ctx context.Context, sealID string) (*VerifyResult, error) {
	seal, err := s.ledger.GetSeal(ctx, sealID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, relayerr.NewNotFoundError("seal not found: %s", sealID)
		}
		return nil, relayerr.NewInternalError("load seal", err)
	}

	m, err := s.ledger.GetManifest(ctx, seal.ManifestID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, relayerr.NewNotFoundError("manifest not found for seal: %s", sealID)
		}
		return nil, relayerr.NewInternalError("load manifest", err)
	}

	sigValid := s.seals.VerifySeal(seal, m)
	expired := seal.IsExpired()
	alreadyExecuted := seal.Executed

	valid := sigValid && !expired && !alreadyExecuted && seal.Approved

	var reason *string
	switch {
	case !sigValid:
		reason = strPtr("Invalid cryptographic signature")
	case !seal.Approved:
		r := "Action was denied"
		if seal.DenialReason != nil {
			r += ": " + *seal.DenialReason
		}
		reason = &r
	case expired:
		reason = strPtr("Seal has expired")
	case alreadyExecuted:
		reason = strPtr("Seal has already been executed")
	}

	return &VerifyResult{
		SealID:          sealID,
		Valid:           valid,
		Approved:        seal.Approved,
		Expired:         expired,
		AlreadyExecuted: alreadyExecuted,
		Reason:          reason,
		ManifestID:      seal.ManifestID,
	}, nil
}

// MarkExecuted consumes a seal's one-time use. Returns relayerr.NotFoundError
// if the seal doesn't exist, relayerr.ReplayError if it was already consumed.
func (s *Service) MarkExecuted(ctx context.Context, sealID string) error {
	err := s.ledger.MarkExecuted(ctx, sealID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrNotFound):
		return relayerr.NewNotFoundError("seal not found: %s", sealID)
	case errors.Is(err, ledger.ErrAlreadyExecuted):
		return relayerr.NewReplayError("seal %s has already been executed", sealID)
	default:
		return relayerr.NewInternalError("mark seal executed", err)
	}
}

func strPtr(s string) *string { return &s }
