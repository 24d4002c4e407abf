package preload

import (
	"time"

	"github.com/yomu-app/yomu/internal/model"
)

type queueEntry struct {
	task *model.Task
	seq  uint64
}

// taskQueue is the priority-ordered set of decode tasks for the current
// epoch. At most one live task exists per page; pushing an already-queued
// page only ever raises its priority. Ties at equal priority resolve by
// insertion order.
type taskQueue struct {
	entries []*queueEntry
	nextSeq uint64
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

// Push enqueues a pending task for page, or raises the priority of the
// existing task for the same (page, epoch). Returns the live task.
func (q *taskQueue) Push(page, priority int, epoch uint64, now time.Time) *model.Task {
	for _, e := range q.entries {
		if e.task.PageIndex == page && e.task.Epoch == epoch && !model.IsTerminal(e.task.Status) {
			if priority > e.task.Priority {
				e.task.Priority = priority
			}
			return e.task
		}
	}

	task := &model.Task{
		PageIndex: page,
		Priority:  priority,
		Epoch:     epoch,
		Status:    model.StatusPending,
		CreatedAt: now,
	}
	q.entries = append(q.entries, &queueEntry{task: task, seq: q.nextSeq})
	q.nextSeq++
	return task
}

// NextPending returns the pending task with the highest priority, FIFO
// within equal priority, or nil if none is pending. The entry stays in the
// queue (for de-duplication) until the next Reset; the caller owns the
// status transition.
func (q *taskQueue) NextPending() *model.Task {
	var best *queueEntry
	for _, e := range q.entries {
		if e.task.Status != model.StatusPending {
			continue
		}
		if best == nil || e.task.Priority > best.task.Priority ||
			(e.task.Priority == best.task.Priority && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return best.task
}

// CancelPending marks every pending task cancelled and returns how many
// were affected. Loading tasks are left alone; their results are dropped at
// the epoch check instead.
func (q *taskQueue) CancelPending() int {
	n := 0
	for _, e := range q.entries {
		if e.task.Status == model.StatusPending {
			e.task.Status = model.StatusCancelled
			n++
		}
	}
	return n
}

// Reset drops every entry. Pending tasks must be cancelled first.
func (q *taskQueue) Reset() {
	q.entries = nil
}

// PendingCount returns the number of pending tasks.
func (q *taskQueue) PendingCount() int {
	n := 0
	for _, e := range q.entries {
		if e.task.Status == model.StatusPending {
			n++
		}
	}
	return n
}

// Len returns the total number of tracked entries, including terminal ones
// kept for de-duplication.
func (q *taskQueue) Len() int {
	return len(q.entries)
}
