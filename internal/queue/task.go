package queue

import "golang.org/x/sync/errgroup"

// Task is the handle returned by ExecuteAsync.
type Task struct {
	group errgroup.Group
	done  chan struct{}
}

// Wait blocks until the drain cycle finishes and returns its error.
func (t *Task) Wait() error {
	return t.group.Wait()
}

// Done returns a channel closed when the drain cycle finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
