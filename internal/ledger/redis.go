package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxTxRetries bounds optimistic-lock retries when appends race.
const maxTxRetries = 16

// RedisLedger keeps the anchor chain in a Redis list of JSON entries, plus
// one key per anchor hash holding its index. Appends use WATCH/MULTI so
// concurrent writers never fork the chain.
type RedisLedger struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisLedger creates a RedisLedger. All keys are namespaced by prefix,
// e.g. "handoff:ledger".
func NewRedisLedger(client *redis.Client, prefix string, logger *zap.Logger) *RedisLedger {
	if prefix == "" {
		prefix = "handoff:ledger"
	}
	return &RedisLedger{client: client, prefix: prefix, logger: logger}
}

func (l *RedisLedger) entriesKey() string { return l.prefix + ":entries" }

func (l *RedisLedger) anchorKey(h string) string { return l.prefix + ":anchor:" + h }

// SubmitAnchor implements Anchorer.
func (l *RedisLedger) SubmitAnchor(ctx context.Context, anchorHash, correlationID string) (*Entry, error) {
	if err := validateAnchor(anchorHash); err != nil {
		return nil, err
	}
	anchorKey := l.anchorKey(anchorHash)

	var out *Entry
	var appended bool
	txf := func(tx *redis.Tx) error {
		appended = false
		idx, err := tx.Get(ctx, anchorKey).Int()
		if err == nil {
			out, err = l.entryAt(ctx, tx, idx)
			return err
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}

		var genesis, prev *Entry
		raw, err := tx.LIndex(ctx, l.entriesKey(), -1).Result()
		switch {
		case errors.Is(err, redis.Nil):
			genesis = newGenesis(now())
			prev = genesis
		case err != nil:
			return err
		default:
			prev = &Entry{}
			if err := json.Unmarshal([]byte(raw), prev); err != nil {
				return fmt.Errorf("decode ledger tail: %w", err)
			}
		}

		entry := chain(prev, anchorHash, correlationID, now())
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if genesis != nil {
				g, err := json.Marshal(genesis)
				if err != nil {
					return err
				}
				p.RPush(ctx, l.entriesKey(), g)
			}
			p.RPush(ctx, l.entriesKey(), payload)
			p.Set(ctx, anchorKey, entry.Index, 0)
			return nil
		})
		if err == nil {
			out, appended = entry, true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := l.client.Watch(ctx, txf, l.entriesKey(), anchorKey)
		if err == nil {
			if appended {
				l.logger.Debug("anchor appended",
					zap.Int("idx", out.Index),
					zap.String("anchor_hash", out.AnchorHash),
				)
			}
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil, fmt.Errorf("%w: too much contention appending anchor", ErrUnavailable)
}

type lindexer interface {
	LIndex(ctx context.Context, key string, index int64) *redis.StringCmd
}

func (l *RedisLedger) entryAt(ctx context.Context, c lindexer, idx int) (*Entry, error) {
	raw, err := c.LIndex(ctx, l.entriesKey(), int64(idx)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: index %d", ErrNotFound, idx)
		}
		return nil, err
	}
	e := &Entry{}
	if err := json.Unmarshal([]byte(raw), e); err != nil {
		return nil, fmt.Errorf("decode ledger entry %d: %w", idx, err)
	}
	return e, nil
}

// IsAnchored implements Anchorer.
func (l *RedisLedger) IsAnchored(ctx context.Context, anchorHash string) (bool, error) {
	if err := validateAnchor(anchorHash); err != nil {
		return false, err
	}
	n, err := l.client.Exists(ctx, l.anchorKey(anchorHash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return n == 1, nil
}

// Lookup implements Ledger.
func (l *RedisLedger) Lookup(ctx context.Context, anchorHash string) (*Entry, error) {
	idx, err := l.client.Get(ctx, l.anchorKey(anchorHash)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return l.entryAt(ctx, l.client, idx)
}

// Get implements Ledger. An empty ledger still reports its genesis entry.
func (l *RedisLedger) Get(ctx context.Context, index int) (*Entry, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: index %d out of range", ErrNotFound, index)
	}
	e, err := l.entryAt(ctx, l.client, index)
	if errors.Is(err, ErrNotFound) && index == 0 {
		return newGenesis(now()), nil
	}
	return e, err
}

// Len implements Ledger.
func (l *RedisLedger) Len(ctx context.Context) (int, error) {
	n, err := l.client.LLen(ctx, l.entriesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	if n == 0 {
		return 1, nil
	}
	return int(n), nil
}

// Verify implements Ledger.
func (l *RedisLedger) Verify(ctx context.Context) error {
	raws, err := l.client.LRange(ctx, l.entriesKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	entries := make([]*Entry, 0, len(raws))
	for i, raw := range raws {
		e := &Entry{}
		if err := json.Unmarshal([]byte(raw), e); err != nil {
			return fmt.Errorf("decode ledger entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return verifyChain(entries)
}

// Root implements Ledger.
func (l *RedisLedger) Root(ctx context.Context) (string, error) {
	raw, err := l.client.LIndex(ctx, l.entriesKey(), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return GenesisHash, nil
		}
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	e := &Entry{}
	if err := json.Unmarshal([]byte(raw), e); err != nil {
		return "", fmt.Errorf("decode ledger root: %w", err)
	}
	return e.Hash, nil
}
