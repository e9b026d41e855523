package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewValidSpec(t *testing.T) {
	s, err := New("*/30 * * * *", func(context.Context) error { return nil }, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	s.Stop()
}

func TestNewInvalidSpec(t *testing.T) {
	_, err := New("not a cron line", func(context.Context) error { return nil }, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cron")
}

func TestNewRejectsSixFieldSpec(t *testing.T) {
	// Seconds-resolution specs are not accepted; the schedule is
	// standard 5-field cron.
	_, err := New("0 */30 * * * *", func(context.Context) error { return nil }, zap.NewNop())
	require.Error(t, err)
}
