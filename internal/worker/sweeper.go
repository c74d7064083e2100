package worker

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Sweeper removes staged uploads that outlived their turn, e.g. after a crash
// between staging and cleanup.
type Sweeper struct {
	dir      string
	pattern  string
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.SugaredLogger
	stopChan chan struct{}
	done     chan struct{}
}

func NewSweeper(dir string, maxAge, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sweeper{
		dir:      dir,
		pattern:  "upload-*",
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
	s.logger.Infow("Started upload sweeper", "dir", s.dir, "max_age", s.maxAge)
}

// Stop ends the sweep loop and waits for it to exit. Call it once.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep deletes uploads last modified before now-maxAge and returns how many it removed.
func (s *Sweeper) Sweep(now time.Time) int {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.pattern))
	if err != nil {
		s.logger.Warnw("Upload sweep failed", "error", err)
		return 0
	}

	removed := 0
	cutoff := now.Add(-s.maxAge)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warnw("Failed to remove stale upload", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Infow("Removed stale uploads", "count", removed)
	}
	return removed
}
