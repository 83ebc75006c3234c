package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BillingRetrier pushes approved requests still awaiting billing
type BillingRetrier interface {
	RetryPending(ctx context.Context, limit int) (int, error)
}

// BillingRetryConfig holds configuration for the billing retry worker
type BillingRetryConfig struct {
	Interval  time.Duration
	BatchSize int
	// Timeout bounds one polling cycle
	Timeout time.Duration
}

// DefaultBillingRetryConfig returns default configuration
func DefaultBillingRetryConfig() BillingRetryConfig {
	return BillingRetryConfig{
		Interval:  time.Minute,
		BatchSize: 20,
		Timeout:   30 * time.Second,
	}
}

// BillingRetryWorker periodically re-runs the billing bridge for approved
// requests whose push failed or never ran
type BillingRetryWorker struct {
	config  BillingRetryConfig
	retrier BillingRetrier
	logger  *zap.Logger

	mu          sync.Mutex
	isRunning   bool
	cancel      context.CancelFunc
	done        chan struct{}
	pushedCount int
	lastError   error
	lastRun     time.Time
}

// NewBillingRetryWorker creates a new billing retry worker
func NewBillingRetryWorker(config BillingRetryConfig, retrier BillingRetrier, logger *zap.Logger) *BillingRetryWorker {
	defaults := DefaultBillingRetryConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &BillingRetryWorker{
		config:  config,
		retrier: retrier,
		logger:  logger,
	}
}

// Start begins the polling loop
func (w *BillingRetryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("billing retry worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("BillingRetryWorker started",
		zap.Duration("interval", w.config.Interval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop terminates the loop and waits for an in-flight cycle
func (w *BillingRetryWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("BillingRetryWorker stopped", zap.Int("pushed_count", w.PushedCount()))
	return nil
}

// Name returns the worker name for identification
func (w *BillingRetryWorker) Name() string {
	return "BillingRetryWorker"
}

// PushedCount returns how many requests this worker has billed
func (w *BillingRetryWorker) PushedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pushedCount
}

func (w *BillingRetryWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single retry cycle
func (w *BillingRetryWorker) RunOnce(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	pushed, err := w.retrier.RetryPending(cycleCtx, w.config.BatchSize)

	w.mu.Lock()
	w.pushedCount += pushed
	w.lastError = err
	w.lastRun = time.Now()
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("Billing retry cycle incomplete", zap.Int("pushed", pushed), zap.Error(err))
		return
	}
	if pushed > 0 {
		w.logger.Info("Billing retry cycle completed", zap.Int("pushed", pushed))
	}
}
