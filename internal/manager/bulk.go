package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// TaskError accumulates the failures of a bulk submission.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d errors:", len(e.Errors))
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

func (e *TaskError) Unwrap() []error { return e.Errors }

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Submitter is the single-request entry point BulkSubmitter fans out to.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
}

// BulkSubmitter submits many requests with a fixed number of goroutines.
type BulkSubmitter struct {
	submitter Submitter
	workers   int
}

// NewBulkSubmitter creates a BulkSubmitter with the provided concurrency.
func NewBulkSubmitter(submitter Submitter, workers int) *BulkSubmitter {
	if workers <= 0 {
		workers = 4
	}
	return &BulkSubmitter{
		submitter: submitter,
		workers:   workers,
	}
}

// SubmitAll submits every request and returns the assigned ids in request
// order. Failed entries have an empty id; their errors are collected into a
// *TaskError.
func (bs *BulkSubmitter) SubmitAll(ctx context.Context, reqs []SubmitRequest) ([]string, error) {
	ids := make([]string, len(reqs))
	err := bs.run(ctx, len(reqs), func(idx int) error {
		id, err := bs.submitter.Submit(ctx, reqs[idx])
		if err != nil {
			return fmt.Errorf("request %d: %w", idx, err)
		}
		ids[idx] = id
		return nil
	})
	return ids, err
}

func (bs *BulkSubmitter) run(ctx context.Context, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if err := workerFn(idx); err != nil {
				errCh <- err
			}
		}
	}

	for i := 0; i < bs.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < total; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}
	var taskErr TaskError
	for err := range errCh {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.append(err)
	}
	return taskErr.asError()
}
