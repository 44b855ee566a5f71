package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/ratingflow/internal/mq"
	"github.com/shaiso/ratingflow/internal/orchestrator"
	"github.com/shaiso/ratingflow/internal/recorder"
)

// Default configuration values.
const (
	defaultPrefetch      = 10
	defaultSweepInterval = time.Minute
	defaultStaleAfter    = 10 * time.Minute
	defaultBatchSize     = 50
)

// Rater выполняет рейтинг.
type Rater interface {
	Rate(ctx context.Context, req orchestrator.RateRequest) (*orchestrator.RateResponse, error)
}

// Worker выполняет асинхронные запросы рейтинга.
//
// Worker — stateless компонент, который:
//   - Получает rate.requested из очереди rating.requests
//   - Выполняет flow через Rater с заранее выданным ID транзакции
//   - Периодически помечает FAILED транзакции, застрявшие без прогресса
//
// Несколько экземпляров потребляют из одной очереди.
type Worker struct {
	rater    Rater
	recorder *recorder.Recorder
	conn     *mq.Connection

	consumer *mq.Consumer

	// Configuration
	prefetch      int
	sweepInterval time.Duration
	staleAfter    time.Duration
	batchSize     int
	now           func() time.Time

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Rater Rater

	// Recorder — журнал транзакций для sweep. nil — sweep выключен.
	Recorder *recorder.Recorder

	Conn *mq.Connection

	Prefetch      int           // default: 10
	SweepInterval time.Duration // default: 1m
	StaleAfter    time.Duration // default: 10m

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		rater:         cfg.Rater,
		recorder:      cfg.Recorder,
		conn:          cfg.Conn,
		prefetch:      prefetch,
		sweepInterval: sweepInterval,
		staleAfter:    staleAfter,
		batchSize:     defaultBatchSize,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With("component", "worker"),
	}
}

// Start запускает consumer rating.requests (если есть Conn) и sweep.
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"prefetch", w.prefetch,
		"sweep_interval", w.sweepInterval,
		"stale_after", w.staleAfter,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRateRequests),
			Handler:  w.handleRateRequested,
			Prefetch: w.prefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("rate request consumer error", "error", err)
			}
		}()
	}

	if w.recorder != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.sweepLoop(ctx)
		}()
	}

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт текущие транзакции.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// sweepLoop периодически закрывает зависшие транзакции.
func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	// Первый проход сразу: подхватываем транзакции, брошенные до рестарта
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}
