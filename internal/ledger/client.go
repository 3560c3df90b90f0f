package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is an Anchorer backed by a remote AnchorLedger gRPC service.
// Positive IsAnchored answers are cached for cacheTTL.
type Client struct {
	conn   grpc.ClientConnInterface
	cache  *confirmationCache
	logger *zap.Logger
}

// NewClient wraps an established connection. A zero cacheTTL disables caching.
func NewClient(conn grpc.ClientConnInterface, cacheTTL time.Duration, logger *zap.Logger) *Client {
	c := &Client{conn: conn, logger: logger}
	if cacheTTL > 0 {
		c.cache = newConfirmationCache(cacheTTL)
	}
	return c
}

// Dial connects to a ledger service at addr without transport security.
// The caller must Close the returned connection.
func Dial(addr string, cacheTTL time.Duration, logger *zap.Logger) (*Client, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial ledger %s: %w", addr, err)
	}
	return NewClient(conn, cacheTTL, logger), conn, nil
}

// SubmitAnchor implements Anchorer.
func (c *Client) SubmitAnchor(ctx context.Context, anchorHash, correlationID string) (*Entry, error) {
	if err := validateAnchor(anchorHash); err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{
		"anchor_hash":    anchorHash,
		"correlation_id": correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodSubmitAnchor, req, out); err != nil {
		return nil, fromStatus(err)
	}
	e, err := entryFromStruct(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if c.cache != nil {
		c.cache.set(anchorHash, e.Hash)
	}
	return e, nil
}

// IsAnchored implements Anchorer.
func (c *Client) IsAnchored(ctx context.Context, anchorHash string) (bool, error) {
	if err := validateAnchor(anchorHash); err != nil {
		return false, err
	}
	if c.cache != nil {
		if _, ok := c.cache.get(anchorHash); ok {
			return true, nil
		}
	}
	out := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(ctx, methodIsAnchored, wrapperspb.String(anchorHash), out); err != nil {
		return false, fromStatus(err)
	}
	if out.GetValue() && c.cache != nil {
		c.cache.set(anchorHash, "")
	}
	return out.GetValue(), nil
}

// Lookup returns the remote entry recording anchorHash.
func (c *Client) Lookup(ctx context.Context, anchorHash string) (*Entry, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetAnchor, wrapperspb.String(anchorHash), out); err != nil {
		return nil, fromStatus(err)
	}
	return entryFromStruct(out)
}

// Root returns the remote chain tip.
func (c *Client) Root(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, methodRoot, &emptypb.Empty{}, out); err != nil {
		return "", fromStatus(err)
	}
	return out.GetValue(), nil
}

// StartCacheEviction runs a background goroutine that evicts expired cache
// entries every interval until ctx is cancelled.
func (c *Client) StartCacheEviction(ctx context.Context, interval time.Duration) {
	if c.cache == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.cache.evict(); n > 0 {
					c.logger.Debug("evicted ledger cache entries", zap.Int("count", n))
				}
			}
		}
	}()
}

// CacheStats returns the number of cached confirmations.
func (c *Client) CacheStats() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.len()
}

// fromStatus maps gRPC status codes back onto package sentinels.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidAnchor, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.Canceled:
		return errors.Join(ErrUnavailable, context.Canceled)
	case codes.DeadlineExceeded:
		return errors.Join(ErrUnavailable, context.DeadlineExceeded)
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	}
}
