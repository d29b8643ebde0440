package dispatch

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/outofforest/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestContext() context.Context {
	return logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig))
}

func TestRunVisitsEveryWorkerOnce(t *testing.T) {
	requireT := require.New(t)

	const workers = 8
	var visits [workers]atomic.Uint32
	err := Run(newTestContext(), workers, func(_ context.Context, worker int) error {
		visits[worker].Add(1)
		return nil
	})
	requireT.NoError(err)

	for i := range visits {
		requireT.Equal(uint32(1), visits[i].Load())
	}
}

func TestRunSingleWorkerStaysInline(t *testing.T) {
	requireT := require.New(t)

	var visited int
	err := Run(newTestContext(), 1, func(_ context.Context, worker int) error {
		requireT.Zero(worker)
		visited++
		return nil
	})
	requireT.NoError(err)
	requireT.Equal(1, visited)
}

func TestRunPropagatesError(t *testing.T) {
	requireT := require.New(t)

	errBoom := errors.New("boom")
	err := Run(newTestContext(), 4, func(_ context.Context, worker int) error {
		if worker == 2 {
			return errBoom
		}
		return nil
	})
	requireT.ErrorIs(err, errBoom)
}
