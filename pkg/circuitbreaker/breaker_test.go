package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 2, OpenTimeout: time.Hour})
	failing := func() error { return errors.New("down") }

	require.Error(t, cb.Execute(context.Background(), failing))
	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 2, OpenTimeout: time.Hour})

	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("down") }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("down") }))

	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_HalfOpenClosesAfterSuccesses(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Millisecond})

	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("down") }))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 1, OpenTimeout: time.Millisecond})

	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("down") }))
	time.Sleep(5 * time.Millisecond)

	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("still down") }))
	assert.Equal(t, StateOpen, cb.State())
}
