package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSaver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSaver) BackupAutoSave(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "/saves/x_1.autosave", nil
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSchedulerSavesOnTickAndStop(t *testing.T) {
	saver := &fakeSaver{}
	as := NewAutosaveScheduler(saver, 10*time.Millisecond)
	as.Start()

	assert.Eventually(t, func() bool { return saver.count() >= 2 }, time.Second, 5*time.Millisecond)

	as.Stop()
	stopped := saver.count()
	// the final save happened before Stop returned, nothing runs after it
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, saver.count())

	// stopping twice is harmless
	as.Stop()
}

func TestSchedulerDisabled(t *testing.T) {
	saver := &fakeSaver{}
	as := NewAutosaveScheduler(saver, 0)
	as.Start()
	as.Stop()
	assert.Zero(t, saver.count())
}

func TestSchedulerSurvivesFailures(t *testing.T) {
	saver := &fakeSaver{err: errors.New("disk full")}
	as := NewAutosaveScheduler(saver, 5*time.Millisecond)
	as.Start()
	assert.Eventually(t, func() bool { return saver.count() >= 3 }, time.Second, 5*time.Millisecond)
	as.Stop()
}
