package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/logging"
)

// AutoSaver writes one autosave; backup.Manager satisfies it.
type AutoSaver interface {
	BackupAutoSave(ctx context.Context) (string, error)
}

// AutosaveScheduler runs AutoSaver on a fixed interval until stopped, and
// once more while stopping so the last changes are kept.
type AutosaveScheduler struct {
	Saver    AutoSaver
	Interval time.Duration
	Wg       sync.WaitGroup
	StopChan chan struct{}

	logger   *zap.Logger
	stopOnce sync.Once
}

func NewAutosaveScheduler(saver AutoSaver, interval time.Duration) *AutosaveScheduler {
	return &AutosaveScheduler{
		Saver:    saver,
		Interval: interval,
		StopChan: make(chan struct{}),
		logger:   logging.Log.Named("autosave"),
	}
}

// Start launches the scheduler goroutine. A non-positive interval leaves
// the scheduler idle.
func (as *AutosaveScheduler) Start() {
	if as.Interval <= 0 {
		as.logger.Info("periodic autosave disabled")
		return
	}
	as.Wg.Add(1)
	go as.run()
	as.logger.Info("periodic autosave started", zap.Duration("interval", as.Interval))
}

func (as *AutosaveScheduler) run() {
	defer as.Wg.Done()
	ticker := time.NewTicker(as.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			as.save("tick")
		case <-as.StopChan:
			as.save("shutdown")
			return
		}
	}
}

func (as *AutosaveScheduler) save(reason string) {
	path, err := as.Saver.BackupAutoSave(context.Background())
	switch {
	case err != nil:
		as.logger.Error("autosave failed", zap.String("reason", reason), zap.Error(err))
	case path == "":
		as.logger.Debug("autosave skipped, nothing changed", zap.String("reason", reason))
	default:
		as.logger.Info("autosave written", zap.String("reason", reason), zap.String("path", path))
	}
}

// Stop signals the scheduler and waits for the final autosave.
func (as *AutosaveScheduler) Stop() {
	as.stopOnce.Do(func() {
		as.logger.Info("stopping autosave scheduler")
		close(as.StopChan)
	})
	as.Wg.Wait()
}
