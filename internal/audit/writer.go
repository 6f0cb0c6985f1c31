// Package audit batches security event writes so hot request paths never
// wait on the database.
package audit

import (
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"kingdom-core/internal/events"
)

type writeOp struct {
	query string
	args  []any
}

// Metrics provides statistics about batch operations.
type Metrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// Writer buffers audit rows and flushes them in transactions, either when the
// buffer fills or on a timer.
type Writer struct {
	db          *sql.DB
	bus         *events.Bus
	buffer      []writeOp
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	wg          sync.WaitGroup
	metrics     Metrics
}

// NewWriter creates an audit writer and starts its background flush loop.
// Events are announced on the bus (when one is given) before they land in
// the database.
func NewWriter(db *sql.DB, bus *events.Bus, maxSize int, interval time.Duration) *Writer {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	w := &Writer{
		db:          db,
		bus:         bus,
		buffer:      make([]writeOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	w.wg.Add(1)
	go w.backgroundFlush()
	return w
}

// SecurityEvent queues one security event row and announces it on the bus.
func (w *Writer) SecurityEvent(userID, kind, detail, ip string) {
	if w.bus != nil {
		w.bus.Publish(events.EventSecurityEvent, events.SecurityNotice{
			UserID: userID,
			Kind:   kind,
			Detail: detail,
			IP:     ip,
		})
	}
	w.write(writeOp{
		query: `INSERT INTO security_events (id, user_id, kind, detail, ip, created_at)
			VALUES (?, NULLIF(?, ''), ?, ?, ?, CURRENT_TIMESTAMP)`,
		args: []any{uuid.NewString(), userID, kind, detail, ip},
	})
}

func (w *Writer) write(op writeOp) {
	w.mu.Lock()
	w.buffer = append(w.buffer, op)
	shouldFlush := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if shouldFlush {
		w.Flush()
	}
}

// Flush immediately writes all buffered operations to the database.
func (w *Writer) Flush() error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	ops := w.buffer
	w.buffer = make([]writeOp, 0, w.maxSize)
	w.mu.Unlock()

	return w.executeBatch(ops)
}

func (w *Writer) executeBatch(ops []writeOp) error {
	atomic.AddUint64(&w.metrics.TotalWrites, uint64(len(ops)))
	atomic.AddUint64(&w.metrics.TotalBatches, 1)
	w.metrics.LastBatchSize = len(ops)
	w.metrics.LastFlushTime = time.Now()

	tx, err := w.db.Begin()
	if err != nil {
		atomic.AddUint64(&w.metrics.TotalErrors, 1)
		log.Printf("❌ audit: begin transaction: %v", err)
		return err
	}
	for _, op := range ops {
		if _, err := tx.Exec(op.query, op.args...); err != nil {
			tx.Rollback()
			atomic.AddUint64(&w.metrics.TotalErrors, 1)
			log.Printf("❌ audit: write failed, rolling back: %v", err)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		atomic.AddUint64(&w.metrics.TotalErrors, 1)
		log.Printf("❌ audit: commit failed: %v", err)
		return err
	}
	return nil
}

func (w *Writer) backgroundFlush() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Flush()
		case <-w.done:
			w.Flush()
			return
		}
	}
}

// Stats returns a copy of the writer metrics.
func (w *Writer) Stats() Metrics {
	return Metrics{
		TotalWrites:   atomic.LoadUint64(&w.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&w.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&w.metrics.TotalErrors),
		LastBatchSize: w.metrics.LastBatchSize,
		LastFlushTime: w.metrics.LastFlushTime,
	}
}

// Close flushes outstanding writes and stops the background loop.
func (w *Writer) Close() error {
	close(w.done)
	w.wg.Wait()
	return nil
}
