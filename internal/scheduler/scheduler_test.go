package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSaver struct {
	mu    sync.Mutex
	dirty bool
	saves int
	err   error
	block chan struct{}
}

func (f *fakeSaver) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

func (f *fakeSaver) Save(context.Context) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves++
	f.dirty = false
	return nil
}

func (f *fakeSaver) markDirty() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewScheduler_Specs(t *testing.T) {
	s, err := NewScheduler(&fakeSaver{}, "", quietLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultSpec, s.Spec())

	_, err = NewScheduler(&fakeSaver{}, "*/5 * * * *", quietLogger())
	require.NoError(t, err)

	_, err = NewScheduler(&fakeSaver{}, "not a cron", quietLogger())
	require.Error(t, err)
}

func TestRunOnce_OnlyWhenDirty(t *testing.T) {
	saver := &fakeSaver{}
	s, err := NewScheduler(saver, "@every 1m", quietLogger())
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, s.RunOnce(ctx))
	assert.Equal(t, 0, saver.count())

	saver.markDirty()
	assert.True(t, s.RunOnce(ctx))
	assert.Equal(t, 1, saver.count())
	assert.False(t, s.RunOnce(ctx), "clean after save")
	assert.Equal(t, int64(1), s.Saves())
}

func TestRunOnce_ErrorKeepsDirty(t *testing.T) {
	saver := &fakeSaver{dirty: true, err: errors.New("disk full")}
	s, err := NewScheduler(saver, "", quietLogger())
	require.NoError(t, err)

	assert.True(t, s.RunOnce(context.Background()))
	assert.True(t, saver.Dirty())
	assert.Zero(t, s.Saves())
}

func TestRunOnce_SkipsOverlap(t *testing.T) {
	saver := &fakeSaver{dirty: true, block: make(chan struct{})}
	s, err := NewScheduler(saver, "", quietLogger())
	require.NoError(t, err)

	started := make(chan struct{})
	go func() {
		close(started)
		s.RunOnce(context.Background())
	}()
	<-started
	require.Eventually(t, func() bool { return s.inflight.Load() }, time.Second, time.Millisecond)

	assert.False(t, s.RunOnce(context.Background()))
	close(saver.block)
	require.Eventually(t, func() bool { return saver.count() == 1 }, time.Second, time.Millisecond)
}

func TestStartSavesOnSchedule(t *testing.T) {
	saver := &fakeSaver{dirty: true}
	s, err := NewScheduler(saver, "@every 1s", quietLogger())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start")

	assert.Eventually(t, func() bool { return saver.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopFlushes(t *testing.T) {
	saver := &fakeSaver{}
	s, err := NewScheduler(saver, "@every 1h", quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	saver.markDirty()
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 1, saver.count())

	// Stop without Start still flushes and is safe to repeat.
	saver.markDirty()
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 2, saver.count())
}

func TestStopReportsFlushError(t *testing.T) {
	saver := &fakeSaver{dirty: true, err: errors.New("closed")}
	s, err := NewScheduler(saver, "", quietLogger())
	require.NoError(t, err)
	assert.Error(t, s.Stop(context.Background()))
}

func TestCalculateNextRun(t *testing.T) {
	s, err := NewScheduler(&fakeSaver{}, "", quietLogger())
	require.NoError(t, err)

	from := time.Date(2026, 1, 1, 10, 7, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("bad", from)
	assert.Error(t, err)
}
