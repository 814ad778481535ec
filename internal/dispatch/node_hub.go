package dispatch

import (
	"go.uber.org/zap"

	"llmrouter/backend/internal/node"
	"llmrouter/backend/internal/rpc"
	"llmrouter/backend/internal/task"
)

var _ rpc.Hub = (*Dispatcher)(nil)

// ConnectNode attaches a freshly accepted connection to the node handle for
// the handshake's (model, name), creating the handle on first use.
func (d *Dispatcher) ConnectNode(hs rpc.Handshake, conn rpc.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ensureQueue(hs.Model)
	n, created := d.nodes.GetOrCreate(hs.Model, hs.Name, hs.MaxConcurrency)
	if !created && n.IsConnected() {
		d.log.Info("node reconnected, replacing previous connection", zap.String("node", n.Key))
	}

	var orphans []*task.Task
	if d.opts.CancelOnDisconnect {
		orphans = n.DetachTasks()
	}
	n.Attach(conn, d.now())
	for _, t := range orphans {
		d.terminateLocked(t, task.ErrorEvent(task.ReasonNodeGone), false)
	}

	d.log.Info("node connected",
		zap.String("node", n.Key), zap.Int("max_concurrency", n.MaxConcurrency),
		zap.Int("abandoned", len(orphans)))
	d.onNodeStatusChange(n)
}

// HandleMessage processes one inbound message from a node connection.
func (d *Dispatcher) HandleMessage(hs rpc.Handshake, conn rpc.Conn, binary bool, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes.Get(hs.Key())
	if !ok || n.Conn() != conn {
		d.log.Info("message from superseded connection, closing", zap.String("node", hs.Key()))
		_ = conn.Close(rpc.CloseStaleConn, "Invalid connection")
		return
	}
	n.Touch(d.now())

	if len(data) == 0 {
		return
	}
	if !binary {
		d.log.Debug("node message", zap.String("node", n.Key), zap.ByteString("text", data))
		return
	}
	f, err := rpc.DecodeFrame(data)
	if err != nil {
		d.log.Warn("malformed frame", zap.String("node", n.Key), zap.Int("len", len(data)), zap.Error(err))
		return
	}
	d.handleFrame(n, f)
}

// HandleClose reacts to a node connection ending. Closes of superseded
// connections are ignored.
func (d *Dispatcher) HandleClose(hs rpc.Handshake, conn rpc.Conn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes.Get(hs.Key())
	if !ok || n.Conn() != conn {
		return
	}
	d.log.Info("node disconnected", zap.String("node", n.Key), zap.Error(err))
	d.dropConnection(n)
}

// dropConnection closes n's connection and applies the disconnect policy to
// its in-flight tasks.
func (d *Dispatcher) dropConnection(n *node.Node) {
	n.Disconnect()
	if !d.opts.CancelOnDisconnect {
		return
	}
	for _, t := range n.DetachTasks() {
		d.terminateLocked(t, task.ErrorEvent(task.ReasonNodeGone), false)
	}
}

func (d *Dispatcher) handleFrame(n *node.Node, f rpc.Frame) {
	t, ok := n.Task(f.TaskID)
	if f.EOS {
		if !ok {
			d.log.Debug("end of stream for unknown task", zap.String("node", n.Key), zap.Uint32("task_id", f.TaskID))
			return
		}
	} else {
		if !ok {
			d.log.Info("data for unknown task, sending stop", zap.String("node", n.Key), zap.Uint32("task_id", f.TaskID))
			n.RemoveTask(f.TaskID, true)
			return
		}
		if t.State() != task.Running {
			d.log.Info("data for task that is not running, sending stop",
				zap.String("node", n.Key), zap.Uint32("task_id", f.TaskID), zap.Stringer("state", t.State()))
			if n.RemoveTask(f.TaskID, true) {
				d.onNodeStatusChange(n)
			}
			return
		}
		t.Append(string(f.Payload))
	}

	cursor, flagged := d.opts.Window.Scan(d.filter, t.Response(), t.ModerationCursor(), f.EOS)
	if flagged {
		d.log.Info("moderation triggered on output",
			zap.Uint32("task_id", t.ID), zap.String("user", t.User.Name), zap.String("model", n.Model))
		if !t.User.BypassModeration {
			d.terminateLocked(t, task.ModerationEvent(), true)
			return
		}
		cursor = len(t.Response())
	}
	t.SetModerationCursor(cursor)

	if f.EOS {
		d.log.Debug("task finished", zap.Uint32("task_id", t.ID), zap.String("node", n.Key))
		d.terminateLocked(t, task.DoneEvent(), false)
		return
	}
	t.Emit(task.DataEvent(string(f.Payload)))
}
