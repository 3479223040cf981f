package seallifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/relay/internal/ledger"
	"github.com/relayhq/relay/internal/model"
	"github.com/relayhq/relay/internal/relayerr"
)

type fakeStore struct {
	seals     map[string]*model.Seal
	manifests map[uuid.UUID]*model.Manifest
}

func newFakeStore() *fakeStore {
	return &fakeStore{seals: map[string]*model.Seal{}, manifests: map[uuid.UUID]*model.Manifest{}}
}

func (f *fakeStore) GetSeal(ctx context.Context, sealID string) (*model.Seal, error) {
	s, ok := f.seals[sealID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) GetManifest(ctx context.Context, id uuid.UUID) (*model.Manifest, error) {
	m, ok := f.manifests[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) MarkExecuted(ctx context.Context, sealID string) error {
	s, ok := f.seals[sealID]
	if !ok {
		return ledger.ErrNotFound
	}
	if s.Executed {
		return ledger.ErrAlreadyExecuted
	}
	s.Executed = true
	return nil
}

type alwaysValid struct{ valid bool }

func (a alwaysValid) VerifySeal(s *model.Seal, m *model.Manifest) bool { return a.valid }

func seedApprovedSeal(store *fakeStore) (uuid.UUID, string) {
	manifestID := uuid.New()
	store.manifests[manifestID] = &model.Manifest{ManifestID: manifestID}
	seal := &model.Seal{
		SealID:     "seal_1_abcd",
		ManifestID: manifestID,
		Approved:   true,
		IssuedAt:   time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	store.seals[seal.SealID] = seal
	return manifestID, seal.SealID
}

func TestVerify_ValidApprovedSeal(t *testing.T) {
	store := newFakeStore()
	_, sealID := seedApprovedSeal(store)

	svc := &Service{ledger: store, seals: alwaysValid{valid: true}}
	result, err := svc.Verify(context.Background(), sealID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid seal, reason: %v", result.Reason)
	}
}

func TestVerify_InvalidSignature(t *testing.T) {
	store := newFakeStore()
	_, sealID := seedApprovedSeal(store)

	svc := &Service{ledger: store, seals: alwaysValid{valid: false}}
	result, err := svc.Verify(context.Background(), sealID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid {
		t.Fatal("expected invalid result for bad signature")
	}
	if result.Reason == nil || *result.Reason != "Invalid cryptographic signature" {
		t.Fatalf("unexpected reason: %v", result.Reason)
	}
}

func TestVerify_ExpiredSeal(t *testing.T) {
	store := newFakeStore()
	_, sealID := seedApprovedSeal(store)
	store.seals[sealID].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	svc := &Service{ledger: store, seals: alwaysValid{valid: true}}
	result, err := svc.Verify(context.Background(), sealID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid || !result.Expired {
		t.Fatal("expected expired, invalid result")
	}
}

func TestVerify_AlreadyExecuted(t *testing.T) {
	store := newFakeStore()
	_, sealID := seedApprovedSeal(store)
	store.seals[sealID].Executed = true

	svc := &Service{ledger: store, seals: alwaysValid{valid: true}}
	result, err := svc.Verify(context.Background(), sealID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid || !result.AlreadyExecuted {
		t.Fatal("expected already-executed, invalid result")
	}
}

func TestVerify_NotFound(t *testing.T) {
	store := newFakeStore()
	svc := &Service{ledger: store, seals: alwaysValid{valid: true}}
	if _, err := svc.Verify(context.Background(), "seal_missing"); err == nil {
		t.Fatal("expected not-found error")
	} else if _, ok := err.(*relayerr.NotFoundError); !ok {
		t.Fatalf("expected NotFoundError, got %T", err)
	}
}

func TestMarkExecuted_Success(t *testing.T) {
	store := newFakeStore()
	_, sealID := seedApprovedSeal(store)

	svc := &Service{ledger: store, seals: alwaysValid{valid: true}}
	if err := svc.MarkExecuted(context.Background(), sealID); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}
	if !store.seals[sealID].Executed {
		t.Fatal("expected seal to be marked executed")
	}
}

func TestMarkExecuted_Replay(t *testing.T) {
	store := newFakeStore()
	_, sealID := seedApprovedSeal(store)
	store.seals[sealID].Executed = true

	svc := &Service{ledger: store, seals: alwaysValid{valid: true}}
	err := svc.MarkExecuted(context.Background(), sealID)
	if err == nil {
		t.Fatal("expected replay error")
	}
	if _, ok := err.(*relayerr.ReplayError); !ok {
		t.Fatalf("expected ReplayError, got %T", err)
	}
}

func TestMarkExecuted_NotFound(t *testing.T) {
	store := newFakeStore()
	svc := &Service{ledger: store, seals: alwaysValid{valid: true}}
	err := svc.MarkExecuted(context.Background(), "seal_missing")
	if _, ok := err.(*relayerr.NotFoundError); !ok {
		t.Fatalf("expected NotFoundError, got %T", err)
	}
}
