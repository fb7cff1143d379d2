package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Start recovers state, then schedules the dispatch and reconciliation
// cycles. A tick that arrives while the previous run of the same cycle is
// still active is skipped. Start returns immediately.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	if err := c.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	logger := cronLogger{c.logger}
	sched := cronlib.New(
		cronlib.WithLogger(logger),
		cronlib.WithChain(
			cronlib.Recover(logger),
			cronlib.SkipIfStillRunning(logger),
		),
	)
	if _, err := sched.AddFunc(every(c.dispatchInterval), c.runDispatch); err != nil {
		return fmt.Errorf("schedule dispatch: %w", err)
	}
	if _, err := sched.AddFunc(every(c.reconcileInterval), c.runReconcile); err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}

	c.cron = sched
	c.stopCh = make(chan struct{})
	c.running = true

	c.wg.Add(1)
	go c.kickLoop()
	sched.Start()

	c.logger.Info("coordinator started",
		slog.Duration("dispatch_interval", c.dispatchInterval),
		slog.Duration("reconcile_interval", c.reconcileInterval),
		slog.Duration("heartbeat_timeout", c.heartbeatTimeout),
		slog.Duration("grace_period", c.gracePeriod),
	)
	return nil
}

// Stop halts the schedules and waits for in-flight cycles to finish or
// for ctx to expire.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	cronCtx := c.cron.Stop()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		<-cronCtx.Done()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.extensions.EmitShutdown(ctx)
	c.logger.Info("coordinator stopped")
	return nil
}

// triggerDispatch asks for a dispatch cycle as soon as possible. Requests
// coalesce: at most one is pending at a time.
func (c *Coordinator) triggerDispatch() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Coordinator) kickLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.kick:
			c.runDispatch()
		}
	}
}

// runDispatch runs one cycle unless another is already running.
func (c *Coordinator) runDispatch() {
	if !c.dispatching.CompareAndSwap(false, true) {
		return
	}
	defer c.dispatching.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), c.dispatchInterval*5)
	defer cancel()

	n, err := c.DispatchOnce(ctx)
	if err != nil {
		c.logger.Error("dispatch cycle failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		c.logger.Debug("dispatch cycle", slog.Int("assigned", n))
	}
}

func (c *Coordinator) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), c.reconcileInterval*5)
	defer cancel()

	n, err := c.ReconcileOnce(ctx)
	if err != nil {
		c.logger.Error("reconcile cycle failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		c.logger.Info("reconcile cycle", slog.Int("moved", n))
	}
}

// cronLogger adapts slog to the cron library's logger.
type cronLogger struct {
	l *slog.Logger
}

func (cl cronLogger) Info(msg string, keysAndValues ...interface{}) {
	cl.l.Debug("cron: "+msg, keysAndValues...)
}

func (cl cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	cl.l.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}

// every returns an "@every" schedule for d. Non-positive values become one
// second, the shortest delay the scheduler supports.
func every(d time.Duration) string {
	if d <= 0 {
		d = time.Second
	}
	return "@every " + d.String()
}
