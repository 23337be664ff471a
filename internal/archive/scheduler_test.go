package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	cutoffs []time.Time
	err     error
}

func (f *fakeArchiver) ArchiveExitAttempts(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 3, f.err
}

func (f *fakeArchiver) ArchiveExitEvents(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 1, nil
}

func TestNextCronTime(t *testing.T) {
	base := time.Date(2025, 6, 10, 14, 7, 30, 0, time.UTC) // Tuesday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 6, 10, 14, 15, 0, 0, time.UTC)},
		{"30 9-17 * * 1-5", time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"0 12 * * 0,6", time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := nextCronTime(tc.expr, base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestScheduler_RunOnceUsesRetentionCutoff(t *testing.T) {
	fa := &fakeArchiver{}
	s := NewScheduler(fa, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.RunOnce(context.Background()))
	want := now.AddDate(0, 0, -30)
	assert.Equal(t, []time.Time{want, want}, fa.cutoffs)
}

func TestScheduler_RunOnceStopsOnError(t *testing.T) {
	fa := &fakeArchiver{err: errors.New("s3 down")}
	s := NewScheduler(fa, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 down")
	assert.Len(t, fa.cutoffs, 1)
}

func TestScheduler_RunRejectsBadCron(t *testing.T) {
	s := NewScheduler(&fakeArchiver{}, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, s.Run(context.Background(), "bogus"))
}
