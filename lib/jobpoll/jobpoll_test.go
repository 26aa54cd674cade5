package jobpoll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobSucceeds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	var acquires, polls, fetches int
	poller := &Poller{
		Interval:    time.Millisecond,
		MaxAttempts: 10,
		Acquire: func(ctx context.Context) error {
			acquires++
			return nil
		},
	}

	result, handle, err := poller.Run(ctx, Callbacks{
		Submit: func(ctx context.Context) (string, error) {
			return "job-1", nil
		},
		Poll: func(ctx context.Context, jobId string) (PollStatus, error) {
			require.Equal(t, "job-1", jobId)
			polls++
			if polls < 4 {
				return InProgress, nil
			}
			return Done, nil
		},
		Fetch: func(ctx context.Context, jobId string) ([]byte, error) {
			fetches++
			return []byte("payload"), nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), result)

	require.Equal(t, StateSucceeded, handle.State)
	require.Equal(t, "job-1", handle.JobId)
	require.Equal(t, 4, handle.Polls)
	// the result is fetched exactly once
	require.Equal(t, 1, fetches)
	// submit + every poll + the result fetch all pass through the gate
	require.Equal(t, 1+4+1, acquires)
}

func TestJobTimesOutAfterBudget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	var fetches int
	poller := &Poller{
		Interval:    time.Millisecond,
		MaxAttempts: 3,
	}

	_, handle, err := poller.Run(ctx, Callbacks{
		Submit: func(ctx context.Context) (string, error) {
			return "job-1", nil
		},
		Poll: func(ctx context.Context, jobId string) (PollStatus, error) {
			return InProgress, nil
		},
		Fetch: func(ctx context.Context, jobId string) ([]byte, error) {
			fetches++
			return nil, nil
		},
	})
	require.ErrorIs(t, err, ErrJobTimedOut)
	require.Equal(t, StateTimedOut, handle.State)
	require.Equal(t, 3, handle.Polls)
	require.Equal(t, 0, fetches)
}

func TestJobFailureIsTerminal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	poller := &Poller{
		Interval:    time.Millisecond,
		MaxAttempts: 10,
	}

	_, handle, err := poller.Run(ctx, Callbacks{
		Submit: func(ctx context.Context) (string, error) {
			return "job-1", nil
		},
		Poll: func(ctx context.Context, jobId string) (PollStatus, error) {
			return Failed, nil
		},
		Fetch: func(ctx context.Context, jobId string) ([]byte, error) {
			t.Fatal("fetch must not run for a failed job")
			return nil, nil
		},
	})
	require.ErrorIs(t, err, ErrJobFailed)
	require.Equal(t, StateFailed, handle.State)
	require.Equal(t, 1, handle.Polls)
}

func TestZeroIntervalDoesNotPanic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	// a zero-value interval falls back to a default instead of crashing
	// ticker creation
	poller := &Poller{}

	_, handle, err := poller.Run(ctx, Callbacks{
		Submit: func(ctx context.Context) (string, error) {
			return "job-1", nil
		},
		Poll: func(ctx context.Context, jobId string) (PollStatus, error) {
			t.Fatal("poll must not run with a zero attempt budget")
			return InProgress, nil
		},
		Fetch: func(ctx context.Context, jobId string) ([]byte, error) {
			return nil, nil
		},
	})
	require.ErrorIs(t, err, ErrJobTimedOut)
	require.Equal(t, StateTimedOut, handle.State)
	require.Equal(t, 0, handle.Polls)
}

func TestCancelDuringPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	poller := &Poller{
		Interval:    time.Millisecond * 5,
		MaxAttempts: 1000,
	}

	_, handle, err := poller.Run(ctx, Callbacks{
		Submit: func(ctx context.Context) (string, error) {
			return "job-1", nil
		},
		Poll: func(ctx context.Context, jobId string) (PollStatus, error) {
			cancel()
			return InProgress, nil
		},
		Fetch: func(ctx context.Context, jobId string) ([]byte, error) {
			return nil, nil
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateRunning, handle.State)
}
