package dispatch

import (
	"time"

	"go.uber.org/zap"

	"llmrouter/backend/internal/task"
)

func (d *Dispatcher) armTimers(t *task.Task) {
	admission := time.AfterFunc(d.opts.AdmissionTimeout, func() { d.admissionExpired(t) })
	completion := time.AfterFunc(d.opts.CompletionTimeout, func() { d.completionExpired(t) })
	t.SetTimers(admission, completion)
}

func (d *Dispatcher) admissionExpired(t *task.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.State() != task.Pending {
		return
	}
	d.log.Info("timeout waiting for node", zap.Uint32("task_id", t.ID), zap.String("model", t.Model))
	d.terminateLocked(t, task.ErrorEvent(task.ReasonAdmissionTimeout), false)
}

func (d *Dispatcher) completionExpired(t *task.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.State() == task.Done {
		return
	}
	d.log.Info("timeout waiting for finish", zap.Uint32("task_id", t.ID), zap.String("node", t.NodeID))
	d.terminateLocked(t, task.ErrorEvent(task.ReasonFinishTimeout), true)
}

// cancelLocked forces t to done, releases its node slot and retires its id.
// It reports false if t was already done.
func (d *Dispatcher) cancelLocked(t *task.Task, sendStop bool) bool {
	queued := t.State() == task.Pending
	if !t.ForceDone() {
		return false
	}
	delete(d.live, t.ID)
	if queued {
		if q, ok := d.queues[t.Model]; ok {
			q.Remove(t.ID)
		}
	}
	if t.NodeID == "" {
		return true
	}
	if n, ok := d.nodes.Get(t.NodeID); ok && n.RemoveTask(t.ID, sendStop) {
		d.onNodeStatusChange(n)
	}
	return true
}

// terminateLocked cancels t and delivers ev as its terminal event.
func (d *Dispatcher) terminateLocked(t *task.Task, ev task.Event, sendStop bool) {
	if d.cancelLocked(t, sendStop) {
		t.Emit(ev)
	}
}
