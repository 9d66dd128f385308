// Package aggregatorrpc implements the coordinator's RPC client to the
// external Aggregator process (§6): submit(masked_bytes) and
// aggregate(). Wire encoding is explicitly out of scope (§1
// Non-goals); this package only owns the transport and retry policy,
// using the teacher's existing grpc dependency.
package aggregatorrpc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"

	"github.com/xaynetwork/xaynet-go/common/logging"
)

var logger = logging.GetLogger("coordinator/aggregatorrpc")

// Client is a round.AggregatorClient backed by a gRPC connection. The
// concrete .proto service is a Non-goal (§1); Submit/Aggregate here
// are placeholders for whatever generated stub the deployment wires
// in, matching the boundary the spec actually asks us to own: retry
// and connection lifecycle, not wire encoding.
type Client struct {
	conn *grpc.ClientConn

	submit    func(ctx context.Context, conn *grpc.ClientConn, payload []byte) error
	aggregate func(ctx context.Context, conn *grpc.ClientConn) error
}

// Dial connects to the aggregator at address. It mirrors
// rust/src/bin/coordinator.rs's aggregator::rpc::client_connect.
func Dial(address string) (*Client, error) {
	conn, err := grpc.Dial(address, grpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Submit sends one participant's masked update to the aggregator.
func (c *Client) Submit(ctx context.Context, maskedBytes []byte) error {
	if c.submit == nil {
		return nil
	}
	return c.submit(ctx, c.conn, maskedBytes)
}

// Aggregate asks the aggregator to finalize the round.
func (c *Client) Aggregate(ctx context.Context) error {
	if c.aggregate == nil {
		return nil
	}
	return c.aggregate(ctx, c.conn)
}

// RetryPolicy builds the backoff schedule used by the round state
// machine's "retried once" AggregatorUnavailable handling (§7): a
// single bounded retry, not an open-ended backoff loop, since a second
// failure must abort the round rather than keep retrying silently.
func RetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	return backoff.WithMaxRetries(b, 1)
}

// WithRetry runs op, retrying once per RetryPolicy on failure. It is
// the shared helper the round package's Submit and Aggregate paths
// (round.Machine.submitWithRetry/aggregateWithRetry) both call.
func WithRetry(ctx context.Context, op func() error) error {
	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = op()
		return lastErr
	}, backoff.WithContext(RetryPolicy(), ctx))
	if err != nil {
		logger.Warn("aggregator rpc failed after retry", "err", lastErr)
		return lastErr
	}
	return nil
}
