package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alpaca-lotto/internal/adapter"
	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/metrics"
	"github.com/alpaca-lotto/internal/types"
)

// LotteryInvalidator drops cached entries for a lottery whose state
// changed on chain. *service.LotteryService satisfies this.
type LotteryInvalidator interface {
	InvalidateLottery(ctx context.Context, lotteryID int64) error
}

// UpdatePublisher pushes lottery updates to connected clients.
// *api.UpdateHub satisfies this.
type UpdatePublisher interface {
	PublishLotteryUpdate(lottery *types.Lottery)
}

// PollGate defers poll cycles while the shared call budget runs dry,
// leaving the remaining window for interactive reads. Implemented by
// ratelimit.WatcherRateController.
type PollGate interface {
	ShouldPause(ctx context.Context) bool
}

// DrawWatcher polls the lottery contract for status transitions. When a
// lottery moves from active to closed or drawn, the watcher invalidates
// its cached entries and broadcasts the fresh state. Reads go straight
// to the adapter so each poll observes chain state, not the cache it is
// responsible for invalidating.
type DrawWatcher struct {
	reader          adapter.LotteryReader
	invalidator     LotteryInvalidator
	publisher       UpdatePublisher
	gate            PollGate
	queue           *DrawQueue
	pollInterval    time.Duration
	maxReadsPerPoll int
	statuses        map[int64]types.LotteryStatus
	running         bool
	mu              sync.RWMutex
	stopCh          chan struct{}
	doneCh          chan struct{}
	lastPollTime    time.Time
	logger          *logging.Logger
}

// DrawWatcherConfig holds configuration for a draw watcher
type DrawWatcherConfig struct {
	// Reader is the lottery contract read adapter. Required.
	Reader adapter.LotteryReader

	// Invalidator drops cached lottery entries on transitions. Optional.
	Invalidator LotteryInvalidator

	// Publisher broadcasts transitions to WebSocket clients. Optional.
	Publisher UpdatePublisher

	// Gate skips poll cycles while the call budget runs dry. Optional.
	Gate PollGate

	// PollInterval is the time between poll cycles. Default: 15 seconds.
	PollInterval time.Duration

	// MaxReadsPerPoll caps per-lottery reads in one cycle (default: 50).
	// The queue orders reads so the nearest draws are refreshed first.
	MaxReadsPerPoll int

	// Logger for watcher events. If nil, the global logger is used.
	Logger *logging.Logger
}

// NewDrawWatcher creates a new draw watcher
func NewDrawWatcher(cfg *DrawWatcherConfig) (*DrawWatcher, error) {
	if cfg == nil || cfg.Reader == nil {
		return nil, fmt.Errorf("lottery reader is required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if pollInterval < time.Second {
		return nil, fmt.Errorf("poll interval must be at least 1 second, got %v", pollInterval)
	}

	maxReads := cfg.MaxReadsPerPoll
	if maxReads <= 0 {
		maxReads = 50
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &DrawWatcher{
		reader:          cfg.Reader,
		invalidator:     cfg.Invalidator,
		publisher:       cfg.Publisher,
		gate:            cfg.Gate,
		queue:           NewDrawQueue(),
		pollInterval:    pollInterval,
		maxReadsPerPoll: maxReads,
		statuses:        make(map[int64]types.LotteryStatus),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		logger:          logger.WithField("component", "draw_watcher"),
	}, nil
}

// Start snapshots current lottery statuses and begins the polling loop.
// Transitions are detected against the snapshot, so draws that finished
// before startup are not re-broadcast.
func (w *DrawWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("draw watcher is already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.WithField("poll_interval", w.pollInterval.String()).Info("Starting draw watcher")

	if err := w.prime(ctx); err != nil {
		w.logger.WithError(err).Warn("Initial lottery snapshot failed, starting empty")
	} else {
		w.logger.WithField("lotteries", w.queue.Len()).Info("Watching lotteries for draw transitions")
	}

	go w.pollLoop(ctx)

	return nil
}

// Stop gracefully stops the draw watcher
func (w *DrawWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("draw watcher is not running")
	}
	w.mu.Unlock()

	w.logger.Info("Stopping draw watcher")

	close(w.stopCh)

	select {
	case <-w.doneCh:
		w.logger.Info("Draw watcher stopped")
	case <-ctx.Done():
		w.logger.Warn("Draw watcher stop timed out")
		return ctx.Err()
	case <-time.After(30 * time.Second):
		w.logger.Warn("Draw watcher stop timed out after 30s")
		return fmt.Errorf("stop timeout")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

// pollLoop is the main polling loop that runs in a goroutine
func (w *DrawWatcher) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Draw watcher context cancelled")
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			w.lastPollTime = time.Now()
			w.mu.Unlock()

			transitions, err := w.Poll(ctx)
			if err != nil {
				w.logger.WithError(err).Warn("Poll cycle failed")
				continue
			}

			if transitions > 0 {
				w.logger.WithField("transitions", transitions).Info("Lottery transitions detected")
			}
		}
	}
}

// Poll reads fresh lottery state and reports the number of status
// transitions observed. Lotteries already drawn are no longer read;
// lotteries that left the active listing stay tracked until a terminal
// status is observed.
func (w *DrawWatcher) Poll(ctx context.Context) (int, error) {
	if w.gate != nil && w.gate.ShouldPause(ctx) {
		w.logger.Debug("Poll cycle skipped, call budget low")
		return 0, nil
	}

	metrics.WatcherPolls.Inc()

	activeIDs, err := w.reader.GetActiveLotteryIDs(ctx)
	if err != nil {
		metrics.WatcherPollErrors.Inc()
		return 0, fmt.Errorf("failed to list active lotteries: %w", err)
	}

	candidates := w.readOrder(activeIDs)
	if len(candidates) > w.maxReadsPerPoll {
		w.logger.WithFields(map[string]interface{}{
			"pending": len(candidates),
			"reading": w.maxReadsPerPoll,
		}).Warn("More lotteries than reads per cycle, nearest draws first")
		candidates = candidates[:w.maxReadsPerPoll]
	}

	transitions := 0
	for _, id := range candidates {
		lottery, err := w.reader.GetLottery(ctx, id)
		if err != nil {
			if errors.Is(err, adapter.ErrLotteryNotFound) {
				w.forget(ctx, id)
				continue
			}
			w.logger.WithError(err).WithField("lottery_id", id).Warn("Lottery read failed")
			continue
		}

		if w.observe(ctx, lottery) {
			transitions++
		}
	}

	return transitions, nil
}

// readOrder merges the fresh active ids with tracked not-yet-drawn ids,
// ordered by draw proximity. Ids the queue has not seen yet go last.
func (w *DrawWatcher) readOrder(activeIDs []int64) []int64 {
	pending := make(map[int64]bool, len(activeIDs))
	for _, id := range activeIDs {
		pending[id] = true
	}

	w.mu.RLock()
	for id, status := range w.statuses {
		if status != types.LotteryStatusDrawn {
			pending[id] = true
		}
	}
	w.mu.RUnlock()

	ordered := make([]int64, 0, len(pending))
	for _, id := range w.queue.OrderedIDs() {
		if pending[id] {
			ordered = append(ordered, id)
			delete(pending, id)
		}
	}
	for _, id := range activeIDs {
		if pending[id] {
			ordered = append(ordered, id)
			delete(pending, id)
		}
	}
	return ordered
}

// observe records a lottery's status and handles the transition when it
// changed since the last poll. Returns true when a transition fired.
func (w *DrawWatcher) observe(ctx context.Context, lottery *types.Lottery) bool {
	if lottery == nil {
		return false
	}

	w.mu.Lock()
	previous, seen := w.statuses[lottery.ID]
	w.statuses[lottery.ID] = lottery.Status
	w.mu.Unlock()

	if lottery.Status == types.LotteryStatusDrawn {
		w.queue.Remove(lottery.ID)
	} else {
		w.queue.Upsert(lottery)
	}

	if !seen || previous == lottery.Status {
		return false
	}

	w.logger.WithFields(map[string]interface{}{
		"lottery_id": lottery.ID,
		"from":       string(previous),
		"to":         string(lottery.Status),
	}).Info("Lottery status changed")

	if lottery.Status == types.LotteryStatusDrawn {
		metrics.WatcherDrawsDetected.Inc()
	}

	if w.invalidator != nil {
		if err := w.invalidator.InvalidateLottery(ctx, lottery.ID); err != nil {
			w.logger.WithError(err).WithField("lottery_id", lottery.ID).Warn("Cache invalidation failed")
		}
	}

	if w.publisher != nil {
		w.publisher.PublishLotteryUpdate(lottery)
	}

	return true
}

// forget drops a lottery that no longer exists upstream
func (w *DrawWatcher) forget(ctx context.Context, lotteryID int64) {
	w.mu.Lock()
	_, seen := w.statuses[lotteryID]
	delete(w.statuses, lotteryID)
	w.mu.Unlock()

	w.queue.Remove(lotteryID)

	if !seen {
		return
	}

	w.logger.WithField("lottery_id", lotteryID).Warn("Tracked lottery disappeared upstream")
	if w.invalidator != nil {
		if err := w.invalidator.InvalidateLottery(ctx, lotteryID); err != nil {
			w.logger.WithError(err).WithField("lottery_id", lotteryID).Warn("Cache invalidation failed")
		}
	}
}

// prime snapshots current statuses without publishing transitions
func (w *DrawWatcher) prime(ctx context.Context) error {
	lotteries, err := w.reader.GetAllLotteries(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot lotteries: %w", err)
	}

	statuses := make(map[int64]types.LotteryStatus, len(lotteries))
	queued := make([]types.Lottery, 0, len(lotteries))
	for _, lottery := range lotteries {
		if lottery == nil {
			continue
		}
		statuses[lottery.ID] = lottery.Status
		if lottery.Status != types.LotteryStatusDrawn {
			queued = append(queued, *lottery)
		}
	}

	w.mu.Lock()
	w.statuses = statuses
	w.mu.Unlock()

	w.queue.Refresh(queued)
	return nil
}

// GetStatus returns current watcher status
func (w *DrawWatcher) GetStatus() *DrawWatcherStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &DrawWatcherStatus{
		Running:             w.running,
		LastPollTime:        w.lastPollTime,
		LotteriesTracked:    w.queue.Len(),
		PollIntervalSeconds: int(w.pollInterval.Seconds()),
	}
	if next, ok := w.queue.NextDraw(); ok {
		status.NextDrawTime = next
	}
	return status
}

// DrawWatcherStatus represents the current status of a draw watcher
type DrawWatcherStatus struct {
	Running             bool
	LastPollTime        time.Time
	LotteriesTracked    int
	NextDrawTime        time.Time
	PollIntervalSeconds int
}
