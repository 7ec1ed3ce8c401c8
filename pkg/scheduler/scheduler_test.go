package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noopJob(name, spec string) Job {
	return Job{Name: name, Spec: spec, Run: func(ctx context.Context) error { return nil }}
}

func TestReconcile_AddsJobs(t *testing.T) {
	s := New(zap.NewNop())

	err := s.Reconcile(context.Background(), []Job{
		noopJob("discovery", "0 6 * * *"),
		noopJob("lifecycle", "30 2 * * *"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.EntryCount())
}

func TestReconcile_SameSetIsNoOp(t *testing.T) {
	s := New(zap.NewNop())
	jobs := []Job{noopJob("discovery", "0 6 * * *")}

	require.NoError(t, s.Reconcile(context.Background(), jobs))
	require.NoError(t, s.Reconcile(context.Background(), jobs))
	assert.Equal(t, 1, s.EntryCount())
}

func TestReconcile_ReplacesChangedSpec(t *testing.T) {
	s := New(zap.NewNop())

	require.NoError(t, s.Reconcile(context.Background(), []Job{noopJob("discovery", "0 6 * * *")}))
	require.NoError(t, s.Reconcile(context.Background(), []Job{noopJob("discovery", "0 7 * * *")}))

	assert.Equal(t, 1, s.EntryCount())
	assert.Equal(t, "0 7 * * *", s.entries["discovery"].spec)
}

func TestReconcile_RemovesUndesiredJobs(t *testing.T) {
	s := New(zap.NewNop())

	require.NoError(t, s.Reconcile(context.Background(), []Job{
		noopJob("discovery", "0 6 * * *"),
		noopJob("lifecycle", "30 2 * * *"),
	}))
	require.NoError(t, s.Reconcile(context.Background(), []Job{noopJob("lifecycle", "30 2 * * *")}))

	assert.Equal(t, 1, s.EntryCount())
	_, ok := s.entries["discovery"]
	assert.False(t, ok)
}

func TestReconcile_InvalidSpecErrors(t *testing.T) {
	s := New(zap.NewNop())
	err := s.Reconcile(context.Background(), []Job{noopJob("broken", "not a cron spec")})
	assert.Error(t, err)
}
