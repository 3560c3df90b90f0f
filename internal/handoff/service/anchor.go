package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"github.com/jmerrifield20/handoff/internal/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// anchorStore is the storage interface required by AnchorService.
type anchorStore interface {
	GetDeliveryEvent(ctx context.Context, id uuid.UUID) (*model.DeliveryEvent, error)
	UpdateEventAnchor(ctx context.Context, id uuid.UUID, ledgerRef string, anchoredAt time.Time) error
	RecordAnchorFailure(ctx context.Context, id uuid.UUID, attempts int, lastErr string, nextAt time.Time) error
	ListAnchorDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.DeliveryEvent, error)
}

// AnchorService commits delivery-event hashes to the ledger and records the
// outcome. Ledger failures never undo a verified proof; the event stays
// pending and is retried later.
type AnchorService struct {
	store    anchorStore
	ledger   ledger.Anchorer
	policy   AnchorPolicy
	logger   *zap.Logger
	recorder Recorder
	now      clock
	inflight singleflight.Group
}

// NewAnchorService creates an AnchorService.
func NewAnchorService(store anchorStore, l ledger.Anchorer, policy AnchorPolicy, logger *zap.Logger) *AnchorService {
	return &AnchorService{
		store:    store,
		ledger:   l,
		policy:   policy,
		logger:   logger,
		recorder: nopRecorder{},
		now:      systemClock,
	}
}

// SetRecorder installs a metrics recorder.
func (s *AnchorService) SetRecorder(r Recorder) { s.recorder = r }

// SetClock overrides the time source. Intended for tests.
func (s *AnchorService) SetClock(now func() time.Time) { s.now = now }

// Anchor submits the event's anchor hash to the ledger. Concurrent calls for
// the same event share one submission. An already anchored event is returned
// as is.
func (s *AnchorService) Anchor(ctx context.Context, ev *model.DeliveryEvent) (*model.AnchorResult, error) {
	v, err, _ := s.inflight.Do(ev.ID.String(), func() (any, error) {
		return s.anchor(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*model.AnchorResult)
	// A caller that joined another's submission holds its own copy of the
	// event, which the shared call never touched.
	if res.State == model.EventStateAnchored {
		ev.LedgerRef = res.LedgerRef
		ev.AnchoredAt = res.AnchoredAt
		ev.State = res.State
		ev.LastAnchorError = ""
		ev.NextAnchorAt = nil
	}
	return &res, nil
}

// AnchorByID loads the event and anchors it. Used for manual re-anchoring.
func (s *AnchorService) AnchorByID(ctx context.Context, id uuid.UUID) (*model.AnchorResult, error) {
	ev, err := s.store.GetDeliveryEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return s.Anchor(ctx, ev)
}

func (s *AnchorService) anchor(ctx context.Context, ev *model.DeliveryEvent) (*model.AnchorResult, error) {
	if ev.State == model.EventStateAnchored && ev.LedgerRef != "" {
		return resultOf(ev), nil
	}

	recomputed, err := ev.ComputeAnchorHash()
	if err != nil {
		return nil, fmt.Errorf("compute anchor hash: %w", err)
	}
	if recomputed != ev.AnchorHash {
		s.logger.Error("refusing to anchor tampered event",
			zap.String("event_id", ev.ID.String()),
			zap.String("stored_hash", ev.AnchorHash),
			zap.String("recomputed_hash", recomputed),
		)
		return nil, ErrEventTampered
	}

	callCtx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	entry, err := s.ledger.SubmitAnchor(callCtx, ev.AnchorHash, ev.ID.String())
	cancel()
	if err != nil {
		return nil, s.recordFailure(ctx, ev, err)
	}

	anchoredAt := s.now()
	if err := s.store.UpdateEventAnchor(ctx, ev.ID, entry.Hash, anchoredAt); err != nil {
		// The ledger holds the hash; a later retry resubmits idempotently and
		// gets the same reference back.
		s.recorder.AnchorAttempt("store_error")
		return nil, fmt.Errorf("record anchor: %w", err)
	}
	s.recorder.AnchorAttempt("anchored")
	s.logger.Info("event anchored",
		zap.String("event_id", ev.ID.String()),
		zap.String("anchor_hash", ev.AnchorHash),
		zap.String("ledger_ref", entry.Hash),
		zap.Int("ledger_index", entry.Index),
	)

	ev.LedgerRef = entry.Hash
	ev.AnchoredAt = &anchoredAt
	ev.State = model.EventStateAnchored
	ev.LastAnchorError = ""
	ev.NextAnchorAt = nil
	return resultOf(ev), nil
}

func (s *AnchorService) recordFailure(ctx context.Context, ev *model.DeliveryEvent, cause error) error {
	attempts := ev.AnchorAttempts + 1
	next := s.now().Add(s.policy.Backoff(attempts))

	if err := s.store.RecordAnchorFailure(ctx, ev.ID, attempts, cause.Error(), next); err != nil {
		s.logger.Error("record anchor failure", zap.String("event_id", ev.ID.String()), zap.Error(err))
	} else {
		ev.State = model.EventStateAnchorFailed
		ev.AnchorAttempts = attempts
		ev.LastAnchorError = cause.Error()
		ev.NextAnchorAt = &next
	}

	s.recorder.AnchorAttempt("failed")
	s.logger.Warn("anchoring failed",
		zap.String("event_id", ev.ID.String()),
		zap.Int("attempt", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)
	return fmt.Errorf("%w: %w", ErrLedgerUnavailable, cause)
}

// RetryPending anchors up to limit events whose retry time has come.
// It returns how many were anchored and how many failed again.
func (s *AnchorService) RetryPending(ctx context.Context, limit int) (anchored, failed int, err error) {
	due, err := s.store.ListAnchorDue(ctx, s.now(), s.policy.MaxAttempts, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list events due for anchoring: %w", err)
	}
	for _, ev := range due {
		if ctx.Err() != nil {
			return anchored, failed, ctx.Err()
		}
		if _, err := s.Anchor(ctx, ev); err != nil {
			failed++
			continue
		}
		anchored++
	}
	return anchored, failed, nil
}

// RunRetrier calls RetryPending every interval until ctx is cancelled.
func (s *AnchorService) RunRetrier(ctx context.Context, interval time.Duration, batch int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			anchored, failed, err := s.RetryPending(ctx, batch)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("anchor retry pass failed", zap.Error(err))
				continue
			}
			if anchored+failed > 0 {
				s.logger.Info("anchor retry pass",
					zap.Int("anchored", anchored),
					zap.Int("failed", failed),
				)
			}
		}
	}
}

func resultOf(ev *model.DeliveryEvent) *model.AnchorResult {
	return &model.AnchorResult{
		EventID:    ev.ID,
		AnchorHash: ev.AnchorHash,
		LedgerRef:  ev.LedgerRef,
		AnchoredAt: ev.AnchoredAt,
		State:      ev.State,
	}
}
