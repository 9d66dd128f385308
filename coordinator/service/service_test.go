package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaynetwork/xaynet-go/coordinator/id"
	"github.com/xaynetwork/xaynet-go/coordinator/metrics"
	"github.com/xaynetwork/xaynet-go/coordinator/registry"
	"github.com/xaynetwork/xaynet-go/coordinator/round"
	"github.com/xaynetwork/xaynet-go/coordinator/selector"
)

type noopAggregator struct{}

func (noopAggregator) Submit(ctx context.Context, maskedBytes []byte) error { return nil }
func (noopAggregator) Aggregate(ctx context.Context) error                 { return nil }

type noopNotifier struct{}

func (noopNotifier) Broadcast(v interface{}) {}

func newTestService(t *testing.T) *Service {
	t.Helper()
	mc := metrics.NewCollectors(prometheus.NewRegistry())
	cfg := round.Config{MinClients: 1, PhaseTimeout: time.Hour}
	return New(cfg, noopAggregator{}, selector.Random{}, noopNotifier{}, mc)
}

// Run serializes every Handle call onto its single event-loop
// goroutine and exits cleanly when ctx is cancelled.
func TestServiceRunDispatchesHandleRequests(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	handle := svc.Handle()
	pid := id.New()

	require.NoError(t, handle.Register(pid))
	assert.Equal(t, registry.Waiting, svc.Registry().StateOf(pid))

	require.NoError(t, handle.Heartbeat(pid))

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func TestServiceHandleSurfacesRegistryErrors(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	handle := svc.Handle()
	pid := id.New()

	require.NoError(t, handle.Register(pid))
	assert.ErrorIs(t, handle.Register(pid), registry.ErrAlreadyExists)
}
