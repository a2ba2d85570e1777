// Package fanout рассылает уведомления множеству получателей: отбирает
// адресатов и выполняет доставку ограниченным пулом воркеров, где у каждой
// задачи свой таймаут и свой результат.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers     = 16
	DefaultTaskTimeout = 5 * time.Second
)

// Task доставляет уведомление одному получателю.
type Task func(ctx context.Context) error

// Result хранит итог одной задачи.
type Result struct {
	Index    int
	Err      error
	Duration time.Duration
}

// Pool ограничивает число одновременных исходящих доставок.
type Pool struct {
	workers int
	timeout time.Duration
}

func NewPool(workers int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Pool{workers: workers, timeout: timeout}
}

func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) TaskTimeout() time.Duration {
	return p.timeout
}

// Run выполняет задачи и возвращает результаты в порядке задач.
// Ошибка или паника одной задачи не прерывает остальные.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	p.Stream(ctx, tasks, func(res Result) {
		results[res.Index] = res
	})
	return results
}

// Stream выполняет задачи и вызывает onResult сразу, как только решилась
// очередная задача, не дожидаясь остальных. onResult вызывается из горутин
// пула конкурентно.
func (p *Pool) Stream(ctx context.Context, tasks []Task, onResult func(Result)) {
	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, task := range tasks {
		g.Go(func() error {
			onResult(p.runOne(ctx, i, task))
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pool) runOne(ctx context.Context, index int, task Task) (res Result) {
	start := time.Now()
	res.Index = index

	taskCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	defer func() {
		res.Duration = time.Since(start)
	}()

	// Задача идёт в отдельной горутине, чтобы зависший вызов, игнорирующий
	// контекст, не занимал слот пула дольше таймаута. После таймаута горутина
	// может ещё работать: её записи идут через taskCtx, который уже отменён.
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("fanout: panic in task %d: %v\n%s", index, r, debug.Stack())
			}
		}()
		done <- task(taskCtx)
	}()

	select {
	case err := <-done:
		res.Err = err
	case <-taskCtx.Done():
		res.Err = fmt.Errorf("fanout: task %d timed out: %w", index, taskCtx.Err())
	}
	return res
}
