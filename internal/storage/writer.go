package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"safe-sql-sandbox/internal/monitor"
)

// AttemptLogger persists a single attempt. *DB implements it.
type AttemptLogger interface {
	LogAttempt(ctx context.Context, a *Attempt) error
}

// AttemptWriter records attempts off the request path. Failures are logged
// and counted, never returned to callers.
type AttemptWriter struct {
	store   AttemptLogger
	metrics *monitor.Metrics
	ch      chan *Attempt
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once

	maxRetries int
	backoff    time.Duration
}

// NewAttemptWriter creates a writer with a bounded buffer. metrics may be nil.
func NewAttemptWriter(store AttemptLogger, bufferSize int, metrics *monitor.Metrics) *AttemptWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AttemptWriter{
		store:      store,
		metrics:    metrics,
		ch:         make(chan *Attempt, bufferSize),
		done:       make(chan struct{}),
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
	}
}

func (w *AttemptWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log enqueues a without blocking. When the buffer is full the attempt is
// dropped.
func (w *AttemptWriter) Log(a *Attempt) {
	prepareAttempt(a)
	select {
	case w.ch <- a:
	default:
		if w.metrics != nil {
			w.metrics.AttemptsDropped.Inc()
		}
		log.Warn().Str("attempt_id", a.ID).Msg("attempt buffer full, dropping record")
	}
}

// Flush stops the writer after draining buffered attempts, waiting at most
// timeout. Calling it more than once is a no-op.
func (w *AttemptWriter) Flush(timeout time.Duration) {
	w.once.Do(func() {
		close(w.done)

		doneCh := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(doneCh)
		}()

		select {
		case <-doneCh:
			log.Info().Msg("attempt writer flushed")
		case <-time.After(timeout):
			log.Warn().Msg("attempt writer flush timed out")
		}
	})
}

func (w *AttemptWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case a := <-w.ch:
			w.writeWithRetry(a)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case a := <-w.ch:
					w.writeWithRetry(a)
				default:
					return
				}
			}
		}
	}
}

func (w *AttemptWriter) writeWithRetry(a *Attempt) {
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.store.LogAttempt(ctx, a)
		cancel()

		if err == nil {
			return
		}

		if attempt < w.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.backoff
			log.Warn().
				Err(err).
				Str("attempt_id", a.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("attempt write failed, retrying")
			time.Sleep(backoff)
		} else {
			if w.metrics != nil {
				w.metrics.AttemptWriteFails.Inc()
			}
			log.Error().
				Err(err).
				Str("attempt_id", a.ID).
				Msg("attempt write failed permanently after retries")
		}
	}
}
