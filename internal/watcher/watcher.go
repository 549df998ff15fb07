// Package watcher periodically audits newly revealed draws.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/draw_auditor/internal/auditor"
	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/pkg/logger"
)

// Auditor is the subset of auditor.Service the watcher drives.
type Auditor interface {
	PendingDraws(ctx context.Context, limit uint32) ([]staking.Draw, error)
	AuditDraw(ctx context.Context, id uint64) (auditor.Result, error)
}

// Config controls the schedule.
type Config struct {
	// Schedule is a cron spec; "@every 5m" style descriptors are accepted.
	Schedule string
	// Lookback is how many recent draws each pass inspects.
	Lookback uint32
	// RunTimeout bounds a single pass. Zero means one minute.
	RunTimeout time.Duration
}

// Stats summarises one pass.
type Stats struct {
	Pending    int
	Verified   int
	Unverified int
	Failed     int
}

// Watcher runs audit passes on a cron schedule. Passes never overlap.
type Watcher struct {
	auditor Auditor
	cfg     Config
	log     *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	last    Stats
	lastErr error
}

// New validates cfg and creates a stopped watcher.
func New(a Auditor, cfg Config, log *logger.Logger) (*Watcher, error) {
	if a == nil {
		return nil, errors.New("watcher: auditor is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("watcher: schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = 20
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = time.Minute
	}
	if log == nil {
		log = logger.NewDefault("watcher")
	}
	return &Watcher{auditor: a, cfg: cfg, log: log}, nil
}

// Start schedules passes until Stop or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("watcher: already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{w.log}),
		cron.SkipIfStillRunning(cronLogger{w.log}),
	))
	if _, err := c.AddFunc(w.cfg.Schedule, w.tick); err != nil {
		w.cancel()
		return err
	}
	c.Start()
	w.cron = c
	w.log.WithField("schedule", w.cfg.Schedule).Info("draw watcher started")
	return nil
}

// Stop halts scheduling and waits for a running pass to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	w.log.Info("draw watcher stopped")
}

// Last returns the outcome of the latest pass.
func (w *Watcher) Last() (Stats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.lastErr
}

func (w *Watcher) tick() {
	w.mu.Lock()
	parent := w.ctx
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, w.cfg.RunTimeout)
	defer cancel()
	stats, err := w.RunOnce(ctx)

	w.mu.Lock()
	w.last, w.lastErr = stats, err
	w.mu.Unlock()
}

// RunOnce audits every pending draw once. Per-draw failures are logged and
// counted; only failing to list draws is returned.
func (w *Watcher) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	pending, err := w.auditor.PendingDraws(ctx, w.cfg.Lookback)
	if err != nil {
		w.log.WithError(err).Warn("list pending draws")
		return stats, err
	}
	stats.Pending = len(pending)

	for _, d := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		res, err := w.auditor.AuditDraw(ctx, d.ID)
		switch {
		case err != nil:
			stats.Failed++
		case res.Report.Verified:
			stats.Verified++
		default:
			stats.Unverified++
		}
	}
	if stats.Pending > 0 {
		w.log.WithFields(logrus.Fields{
			"pending":    stats.Pending,
			"verified":   stats.Verified,
			"unverified": stats.Unverified,
			"failed":     stats.Failed,
		}).Info("watcher pass complete")
	}
	return stats, nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
