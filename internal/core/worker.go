package core

import (
	"context"
	"sync"

	"github.com/illarion/lockbox/internal/filecipher"
	"github.com/illarion/lockbox/internal/logging"
)

// Op selects the file operation of a Request.
type Op int

const (
	OpEncrypt Op = iota
	OpDecrypt
)

func (o Op) String() string {
	if o == OpDecrypt {
		return "decrypt"
	}
	return "encrypt"
}

// Request is one background file job.
type Request struct {
	Op   Op
	Path string
}

// Completion reports the end of a job. Exactly one is delivered per
// Submit call.
type Completion struct {
	Request Request
	Result  filecipher.Result
	Err     error
}

type fileOps interface {
	Encrypt(ctx context.Context, path string) (filecipher.Result, error)
	Decrypt(ctx context.Context, path string) (filecipher.Result, error)
}

type job struct {
	ctx  context.Context
	req  Request
	done chan<- Completion
}

// Worker runs file jobs one at a time on a background goroutine so an
// interactive caller never blocks on a long encryption. Jobs run to
// completion once started; a cancelled context only stops a job that has
// not started yet.
type Worker struct {
	ops    fileOps
	logger logging.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

const workerQueue = 16

func newWorker(ops fileOps, logger logging.Logger) *Worker {
	w := &Worker{
		ops:    ops,
		logger: logger,
		jobs:   make(chan job, workerQueue),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Submit queues req and returns a channel that receives its Completion.
func (w *Worker) Submit(ctx context.Context, req Request) <-chan Completion {
	done := make(chan Completion, 1)

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		done <- Completion{Request: req, Err: ErrClosed}
		return done
	}

	select {
	case w.jobs <- job{ctx: ctx, req: req, done: done}:
	case <-ctx.Done():
		done <- Completion{Request: req, Err: ctx.Err()}
	}
	return done
}

func (w *Worker) run() {
	defer w.wg.Done()

	for j := range w.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- Completion{Request: j.req, Err: err}
			continue
		}

		ctx := context.WithoutCancel(j.ctx)
		var (
			res filecipher.Result
			err error
		)
		switch j.req.Op {
		case OpDecrypt:
			res, err = w.ops.Decrypt(ctx, j.req.Path)
		default:
			res, err = w.ops.Encrypt(ctx, j.req.Path)
		}
		if err != nil {
			w.logger.Debug(ctx, "job failed", "op", j.req.Op, "path", j.req.Path, "error", err)
		}
		j.done <- Completion{Request: j.req, Result: res, Err: err}
	}
}

// close waits for queued jobs and stops the goroutine.
func (w *Worker) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	w.wg.Wait()
}
