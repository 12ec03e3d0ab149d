package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TickerStatus is a snapshot of the in-process dispatch loop.
type TickerStatus struct {
	Running      bool          `json:"running"`
	Interval     time.Duration `json:"interval"`
	Runs         int64         `json:"runs"`
	Panics       int64         `json:"panics"`
	LastRunAt    *time.Time    `json:"lastRunAt,omitempty"`
	LastDuration time.Duration `json:"lastDurationNs"`
}

// Ticker is an in-process periodic trigger for single-node deployments.
// Production setups normally leave it off and hit the cron endpoints instead.
// The first run happens as soon as it starts.
type Ticker struct {
	interval time.Duration
	run      func(context.Context)
	logger   *slog.Logger

	mu     sync.Mutex
	stop   context.CancelFunc
	done   chan struct{}
	status TickerStatus
}

func NewTicker(interval time.Duration, run func(context.Context), logger *slog.Logger) (*Ticker, error) {
	if interval <= 0 {
		return nil, errors.New("ticker interval must be positive")
	}
	if run == nil {
		return nil, errors.New("ticker needs a run function")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{
		interval: interval,
		run:      run,
		logger:   logger.With("component", "dispatch_ticker"),
		status:   TickerStatus{Interval: interval},
	}, nil
}

// Start launches the loop. It reports false if the loop is already running.
func (t *Ticker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.stop = cancel
	t.done = make(chan struct{})
	t.status.Running = true

	go t.loop(ctx, t.done)
	t.logger.Info("started", "interval", t.interval.String())
	return true
}

// Stop cancels the current run and waits for the loop to exit.
func (t *Ticker) Stop() bool {
	t.mu.Lock()
	if !t.status.Running {
		t.mu.Unlock()
		return false
	}
	stop, done := t.stop, t.done
	t.mu.Unlock()

	stop()
	<-done

	t.mu.Lock()
	t.status.Running = false
	t.mu.Unlock()

	t.logger.Info("stopped")
	return true
}

func (t *Ticker) IsRunning() bool {
	return t.Status().Running
}

func (t *Ticker) Status() TickerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Run starts the loop and blocks until ctx is done.
func (t *Ticker) Run(ctx context.Context) error {
	t.Start()
	<-ctx.Done()
	t.Stop()
	return nil
}

func (t *Ticker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		t.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context) {
	start := time.Now()
	var panicked error

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = fmt.Errorf("%v", r)
			}
		}()
		t.run(ctx)
	}()

	elapsed := time.Since(start)

	t.mu.Lock()
	t.status.Runs++
	t.status.LastRunAt = &start
	t.status.LastDuration = elapsed
	if panicked != nil {
		t.status.Panics++
	}
	t.mu.Unlock()

	if panicked != nil {
		t.logger.Error("dispatch run panicked", "panic", panicked.Error())
		return
	}
	t.logger.Debug("dispatch run finished", "duration_ms", elapsed.Milliseconds())
}
