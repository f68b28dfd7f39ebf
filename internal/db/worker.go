package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrWorkerClosed is returned by Do once Close has been called.
var ErrWorkerClosed = errors.New("db worker closed")

// DefaultQueueSize is the number of transactions that may wait for the
// writer before Do starts blocking.
const DefaultQueueSize = 256

type TxFn func(ctx context.Context, tx *sql.Tx) error

type txJob struct {
	ctx    context.Context
	fn     TxFn
	result chan error
}

// Worker serialises every write transaction through one goroutine. SQLite
// allows a single writer, so all stores share one Worker per database.
type Worker struct {
	db   *sql.DB
	jobs chan txJob
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewWorker(db *sql.DB) *Worker {
	return NewWorkerSize(db, DefaultQueueSize)
}

func NewWorkerSize(db *sql.DB, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w := &Worker{
		db:   db,
		jobs: make(chan txJob, queueSize),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Close stops accepting work, finishes what is already queued and returns.
// It is safe to call more than once.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}

// Do runs fn inside a transaction on the writer goroutine. If ctx expires
// while the job is queued or running, Do returns ctx.Err(); the transaction
// itself still completes and its result is discarded.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	j := txJob{ctx: ctx, fn: fn, result: make(chan error, 1)}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWorkerClosed
	}
	select {
	case w.jobs <- j:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for j := range w.jobs {
		j.result <- w.exec(j)
	}
}

func (w *Worker) exec(j txJob) error {
	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}
	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
