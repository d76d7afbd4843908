package storage

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/models"
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultMaxBatch      = 100
	defaultMaxPending    = 10000
	flushTimeout         = 5 * time.Second
)

// PurchaseBatchStore is the repository surface the buffered writer flushes
// to and reads through
type PurchaseBatchStore interface {
	BatchInsert(ctx context.Context, purchases []*models.Purchase) error
	GetByLottery(ctx context.Context, lotteryID int64, limit int) ([]*models.Purchase, error)
	GetByBuyer(ctx context.Context, buyer string, limit int) ([]*models.Purchase, error)
}

// BufferedPurchaseWriter batches purchase rows in memory and flushes them to
// ClickHouse on an interval or when the batch fills. Inserts validate
// synchronously; persistence is asynchronous. Reads flush first so callers
// see their own writes.
type BufferedPurchaseWriter struct {
	store         PurchaseBatchStore
	flushInterval time.Duration
	maxBatch      int
	maxPending    int

	mu      sync.Mutex
	pending []*models.Purchase

	kick    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	flushed atomic.Int64
	dropped atomic.Int64

	logger *logging.Logger
}

// BufferedPurchaseWriterConfig holds configuration for the buffered writer
type BufferedPurchaseWriterConfig struct {
	// FlushInterval is how often pending rows are written. Default: 2s.
	FlushInterval time.Duration

	// MaxBatch triggers an early flush once this many rows are pending.
	// Default: 100.
	MaxBatch int

	// MaxPending bounds buffered rows; the oldest rows are dropped beyond
	// it. Default: 10000.
	MaxPending int

	// Logger for writer events. If nil, the global logger is used.
	Logger *logging.Logger
}

// NewBufferedPurchaseWriter creates a buffered writer over a purchase store
func NewBufferedPurchaseWriter(store PurchaseBatchStore, cfg *BufferedPurchaseWriterConfig) *BufferedPurchaseWriter {
	if cfg == nil {
		cfg = &BufferedPurchaseWriterConfig{}
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &BufferedPurchaseWriter{
		store:         store,
		flushInterval: flushInterval,
		maxBatch:      maxBatch,
		maxPending:    maxPending,
		kick:          make(chan struct{}, 1),
		logger:        logger.WithField("component", "purchase_writer"),
	}
}

// Start launches the background flush loop
func (w *BufferedPurchaseWriter) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	go w.flushLoop(stopCh, doneCh)
	w.logger.WithField("flush_interval", w.flushInterval.String()).Info("Purchase writer started")
}

// Stop halts the flush loop and writes any pending rows
func (w *BufferedPurchaseWriter) Stop(ctx context.Context) error {
	w.mu.Lock()
	started := w.started
	w.started = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	if started {
		close(stopCh)
		<-doneCh
	}

	if err := w.Flush(ctx); err != nil {
		return err
	}
	w.logger.Info("Purchase writer stopped")
	return nil
}

// Insert validates the row and queues it for the next flush
func (w *BufferedPurchaseWriter) Insert(ctx context.Context, purchase *models.Purchase) error {
	if err := ValidateAddress(purchase.Buyer); err != nil {
		return err
	}
	purchase.Buyer = strings.ToLower(purchase.Buyer)

	w.mu.Lock()
	w.pending = append(w.pending, purchase)
	if overflow := len(w.pending) - w.maxPending; overflow > 0 {
		w.pending = w.pending[overflow:]
		w.dropped.Add(int64(overflow))
		w.logger.WithField("dropped", overflow).Warn("Purchase buffer overflow, oldest rows dropped")
	}
	full := len(w.pending) >= w.maxBatch
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush writes all pending rows in one batch. A failed batch is re-queued
// for the next attempt.
func (w *BufferedPurchaseWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if err := w.store.BatchInsert(ctx, batch); err != nil {
		w.requeue(batch)
		w.logger.WithError(err).WithField("rows", len(batch)).Error("Purchase batch flush failed, rows re-queued")
		return err
	}

	w.flushed.Add(int64(len(batch)))
	w.logger.WithField("rows", len(batch)).Debug("Purchase batch flushed")
	return nil
}

// GetByLottery flushes pending rows, then reads a lottery's history
func (w *BufferedPurchaseWriter) GetByLottery(ctx context.Context, lotteryID int64, limit int) ([]*models.Purchase, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.store.GetByLottery(ctx, lotteryID, limit)
}

// GetByBuyer flushes pending rows, then reads a buyer's history
func (w *BufferedPurchaseWriter) GetByBuyer(ctx context.Context, buyer string, limit int) ([]*models.Purchase, error) {
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return w.store.GetByBuyer(ctx, buyer, limit)
}

// PurchaseWriterStats is a snapshot of writer counters
type PurchaseWriterStats struct {
	Pending int   `json:"pending"`
	Flushed int64 `json:"flushed"`
	Dropped int64 `json:"dropped"`
}

// GetStats returns the writer's counters
func (w *BufferedPurchaseWriter) GetStats() PurchaseWriterStats {
	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()

	return PurchaseWriterStats{
		Pending: pending,
		Flushed: w.flushed.Load(),
		Dropped: w.dropped.Load(),
	}
}

func (w *BufferedPurchaseWriter) flushLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			w.flushWithTimeout()
		case <-w.kick:
			w.flushWithTimeout()
		}
	}
}

func (w *BufferedPurchaseWriter) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	// Errors are logged inside Flush; rows stay queued for the next pass
	_ = w.Flush(ctx)
}

// requeue puts a failed batch back at the head, keeping arrival order and
// the pending bound
func (w *BufferedPurchaseWriter) requeue(batch []*models.Purchase) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(batch, w.pending...)
	if overflow := len(w.pending) - w.maxPending; overflow > 0 {
		w.pending = w.pending[overflow:]
		w.dropped.Add(int64(overflow))
	}
}
