package tasks

import (
	"context"
	"fmt"
	"sync"

	"ragserv/internal/config"
)

// Logger is the minimal logging interface used by the queue and scheduler,
// matching the functional-options Logger convention used across internal/rag.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Warn(string, map[string]any)  {}

// Queue is a bounded-channel worker pool processing knowledge-add tasks,
// grounded on task_queue.py's asyncio.Queue + worker-coroutine design,
// re-expressed with a buffered Go channel and a fixed goroutine pool whose
// lifecycle is tied to a context rather than explicit start/stop signals.
type Queue struct {
	ch        chan Payload
	store     *Store
	processor Processor
	log       Logger

	wg      sync.WaitGroup
	workers int
}

// NewQueue builds a Queue sized from cfg (defaults: 3 workers, queue size 100).
func NewQueue(cfg config.TasksConfig, store *Store, processor Processor, log Logger) *Queue {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 3
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Queue{
		ch:        make(chan Payload, size),
		store:     store,
		processor: processor,
		log:       log,
		workers:   workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or when
// Stop closes the channel; tasks still buffered at cancellation are not
// processed. Enqueue rejects a task when the buffer is full instead of
// blocking.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.log.Info("task queue started", map[string]any{"workers": q.workers})
}

// Stop closes the intake channel and waits for in-flight tasks to finish.
func (q *Queue) Stop() {
	close(q.ch)
	q.wg.Wait()
	q.log.Info("task queue stopped", map[string]any{})
}

// Enqueue submits a task for background processing, persisting its initial
// pending row before admission so /add_knowledge/status/{id} can observe it
// immediately.
func (q *Queue) Enqueue(ctx context.Context, p Payload) (string, error) {
	if q.store != nil {
		if err := q.store.Create(ctx, p.TaskID, p.Title, p.Category); err != nil {
			return "", fmt.Errorf("create task row: %w", err)
		}
	}
	select {
	case q.ch <- p:
		return p.TaskID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("task queue full (capacity %d)", cap(q.ch))
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case p, ok := <-q.ch:
			if !ok {
				return
			}
			q.process(ctx, id, p)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, workerID int, p Payload) {
	q.log.Info("task processing started", map[string]any{"worker": workerID, "task_id": p.TaskID})
	if q.store != nil {
		_ = q.store.SetStatus(ctx, p.TaskID, StatusProcessing, "", "")
	}

	resultID, err := q.processor.Process(ctx, p)
	if err != nil {
		q.log.Error("task failed", map[string]any{"worker": workerID, "task_id": p.TaskID, "error": err.Error()})
		if q.store != nil {
			_ = q.store.SetStatus(ctx, p.TaskID, StatusFailed, "", err.Error())
		}
		return
	}
	if q.store != nil {
		_ = q.store.SetStatus(ctx, p.TaskID, StatusCompleted, resultID, "")
	}
	q.log.Info("task completed", map[string]any{"worker": workerID, "task_id": p.TaskID, "result_id": resultID})
}
