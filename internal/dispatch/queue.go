package dispatch

import (
	"go.uber.org/zap"

	"llmrouter/backend/internal/node"
	"llmrouter/backend/internal/task"
)

func (d *Dispatcher) ensureQueue(model string) *task.Queue {
	q, ok := d.queues[model]
	if !ok {
		q = task.NewQueue()
		d.queues[model] = q
	}
	return q
}

// queueTask hands t to the first available node of its model, in
// registration order, or appends it to the model's queue.
func (d *Dispatcher) queueTask(q *task.Queue, t *task.Task) {
	if t.State() != task.Pending {
		d.log.Warn("attempted to queue task that is not pending", zap.Uint32("task_id", t.ID))
		return
	}
	for _, n := range d.nodes.ForModel(t.Model) {
		if !n.IsAvailable() {
			continue
		}
		if n.AddTask(t) {
			return
		}
		break
	}
	q.Push(t)
}

// onNodeStatusChange feeds queued tasks to n while it has free slots.
func (d *Dispatcher) onNodeStatusChange(n *node.Node) {
	q, ok := d.queues[n.Model]
	if !ok {
		return
	}
	for q.Len() > 0 && n.IsAvailable() {
		t, ok := q.PopPending()
		if !ok {
			return
		}
		if !n.AddTask(t) {
			q.PushFront(t)
			return
		}
	}
}
