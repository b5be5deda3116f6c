package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sahyogai/sahyog-gateway/internal/ledger"
)

// Writer wraps a ledger.Store with asynchronous batch writes.
// Entries are queued in memory and written in batches to reduce database load.
// WARNING: Entries may be lost if the process crashes before flushing.
type Writer struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	logger        *log.Logger
}

// Config configures the async writer behavior.
type Config struct {
	BatchSize     int           // Maximum entries per batch (default: 100)
	FlushInterval time.Duration // Maximum time between flushes (default: 1s)
	ChannelBuffer int           // Channel buffer size (default: 10000)
	Logger        *log.Logger   // Optional logger for diagnostics
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 1 * time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}

	w := &Writer{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		logger:        cfg.Logger,
	}

	w.wg.Add(1)
	go w.batchWriter()

	if w.logger != nil {
		w.logger.Printf("[async-ledger] started, batch_size=%d, flush_interval=%v, buffer=%d",
			cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	}

	return w
}

// batchWriter runs in a background goroutine, batching entries and writing them periodically.
func (w *Writer) batchWriter() {
	defer w.wg.Done()

	batch := make([]ledger.Entry, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.underlying.InsertBatch(context.Background(), batch); err != nil {
			if w.logger != nil {
				w.logger.Printf("[async-ledger] ERROR writing batch of %d: %v", len(batch), err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-w.entryChan:
			batch = append(batch, entry)
			if len(batch) >= w.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-w.stopChan:
			// Drain remaining entries
			close(w.entryChan)
			for entry := range w.entryChan {
				batch = append(batch, entry)
				if len(batch) >= w.batchSize {
					flush()
				}
			}
			flush()
			return
		}
	}
}

// Record queues an entry for asynchronous writing (non-blocking).
func (w *Writer) Record(ctx context.Context, entry ledger.Entry) error {
	select {
	case w.entryChan <- entry:
		return nil
	default:
		// Channel full - this is a warning condition
		if w.logger != nil {
			w.logger.Printf("[async-ledger] WARNING: channel full, dropping entry")
		}
		return nil // Don't block, drop the entry
	}
}

// SummarizeOwner delegates to the underlying store (blocking operation).
func (w *Writer) SummarizeOwner(ctx context.Context, ownerID int64) (*ledger.Summary, error) {
	return w.underlying.SummarizeOwner(ctx, ownerID)
}

// Close flushes remaining entries and closes the underlying store.
func (w *Writer) Close() error {
	close(w.stopChan)
	w.wg.Wait()
	return w.underlying.Close()
}
