// Package controller feeds active work items into the orchestrator. A
// periodic scan lists non-terminal items and enqueues their keys into a
// rate-limited workqueue drained by a pool of workers, so a crashed or
// restarted processor picks up in-flight items on the next scan.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/signal"
	"github.com/jordigilh/kubernaut-sub006/internal/store"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/util/workqueue"
)

// Reconciler processes one work item attempt and reports terminal failure
// after the retry budget is spent.
type Reconciler interface {
	Reconcile(ctx context.Context, key store.Key) error
	MarkFailed(ctx context.Context, key store.Key, attempts int, cause error) error
}

// Config holds controller configuration.
type Config struct {
	// Workers is the number of concurrent reconcile workers. Default 4.
	Workers int

	// ResyncInterval is the period between full active-item scans.
	// Default 30s.
	ResyncInterval time.Duration

	// MaxRetries bounds reconcile attempts per item before it is driven
	// to the terminal Failed phase. Default 5.
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
}

// Controller is the lifecycle component driving reconciliation.
type Controller struct {
	store      store.Interface
	reconciler Reconciler
	cfg        Config
	queue      workqueue.TypedRateLimitingInterface[store.Key]
	logger     *logging.Logger

	cancel   context.CancelFunc
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a controller.
func New(st store.Interface, reconciler Reconciler, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{
		store:      st,
		reconciler: reconciler,
		cfg:        cfg,
		queue: workqueue.NewTypedRateLimitingQueue(
			workqueue.DefaultTypedControllerRateLimiter[store.Key]()),
		logger:  logging.GetLogger("controller"),
		stopped: make(chan struct{}),
	}
}

// Name implements lifecycle.Component.
func (c *Controller) Name() string {
	return "signal-controller"
}

// Start launches the scan loop and the worker pool.
func (c *Controller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		c.scanLoop(groupCtx)
		return nil
	})
	for i := 0; i < c.cfg.Workers; i++ {
		group.Go(func() error {
			c.worker(groupCtx)
			return nil
		})
	}

	go func() {
		defer close(c.stopped)
		if err := group.Wait(); err != nil {
			c.logger.Error("Controller group exited with error: %v", err)
		}
	}()

	c.logger.Info("Controller started with %d workers, resync every %s",
		c.cfg.Workers, c.cfg.ResyncInterval)
	return nil
}

// Stop shuts the queue down and waits for workers to drain.
func (c *Controller) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.queue.ShutDown()
	})

	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("controller shutdown timed out: %w", ctx.Err())
	}
}

// Enqueue adds a single key, e.g. from an external notification.
func (c *Controller) Enqueue(key store.Key) {
	c.queue.Add(key)
}

// scanLoop lists active items on a fixed period and enqueues them. The
// workqueue deduplicates keys already pending, so rescanning an item under
// active reconciliation is harmless.
func (c *Controller) scanLoop(ctx context.Context) {
	c.scan(ctx)

	ticker := time.NewTicker(c.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.scan(ctx)
		}
	}
}

func (c *Controller) scan(ctx context.Context) {
	keys, err := c.store.ListActive(ctx)
	if err != nil {
		c.logger.Warn("Active item scan failed: %v", err)
		return
	}
	for _, key := range keys {
		c.queue.Add(key)
	}
	if len(keys) > 0 {
		c.logger.Debug("Scan enqueued %d active items", len(keys))
	}
}

func (c *Controller) worker(ctx context.Context) {
	for c.processNext(ctx) {
	}
}

// processNext handles one queue item. Retryable failures requeue with
// backoff until the retry budget runs out, then the item is marked
// terminally Failed and forgotten.
func (c *Controller) processNext(ctx context.Context) bool {
	key, shutdown := c.queue.Get()
	if shutdown {
		return false
	}
	defer c.queue.Done(key)

	err := c.reconciler.Reconcile(ctx, key)
	if err == nil {
		c.queue.Forget(key)
		return true
	}

	attempts := c.queue.NumRequeues(key) + 1
	if signal.IsRetryable(err) && attempts < c.cfg.MaxRetries {
		c.logger.Warn("Reconcile of %s/%s failed (attempt %d/%d), requeueing: %v",
			key.Namespace, key.Name, attempts, c.cfg.MaxRetries, err)
		c.queue.AddRateLimited(key)
		return true
	}

	c.logger.Error("Reconcile of %s/%s failed terminally after %d attempts: %v",
		key.Namespace, key.Name, attempts, err)
	if markErr := c.reconciler.MarkFailed(ctx, key, attempts, err); markErr != nil {
		// Leave the key forgotten; the next scan retries the marking.
		c.logger.Error("Failed to mark %s/%s as failed: %v", key.Namespace, key.Name, markErr)
	}
	c.queue.Forget(key)
	return true
}
