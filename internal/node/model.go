package node

import (
	"time"

	"go.uber.org/zap"

	"llmrouter/backend/internal/rpc"
	"llmrouter/backend/internal/task"
)

type Status string

const (
	Alive        Status = "ALIVE"
	Disconnected Status = "DISCONNECTED"
)

// Node is the handle of one compute node, identified by model and name. The
// handle outlives its connections so a reconnecting worker keeps its place.
//
// Node is not safe for concurrent use; the dispatcher serializes access.
type Node struct {
	Key            string
	Name           string
	Model          string
	MaxConcurrency int

	conn        rpc.Conn
	lastSeen    time.Time
	connectedAt time.Time
	tasks       map[uint32]*task.Task
	log         *zap.Logger
}

func newNode(model, name string, maxConcurrency int, log *zap.Logger) *Node {
	key := model + "-" + name
	return &Node{
		Key:            key,
		Name:           name,
		Model:          model,
		MaxConcurrency: maxConcurrency,
		tasks:          make(map[uint32]*task.Task),
		log:            log.With(zap.String("node", key)),
	}
}

func (n *Node) IsConnected() bool {
	return n.conn != nil
}

func (n *Node) IsAvailable() bool {
	return n.IsConnected() && len(n.tasks) < n.MaxConcurrency
}

// Conn returns the attached connection or nil.
func (n *Node) Conn() rpc.Conn {
	return n.conn
}

func (n *Node) InFlight() int {
	return len(n.tasks)
}

// Task returns the in-flight task registered under id.
func (n *Node) Task(id uint32) (*task.Task, bool) {
	t, ok := n.tasks[id]
	return t, ok
}

// AddTask hands a pending task to the worker. On failure the task is left
// untouched and the caller must queue it.
func (n *Node) AddTask(t *task.Task) bool {
	if !n.IsConnected() {
		n.log.Warn("attempted to add task to disconnected node", zap.Uint32("task_id", t.ID))
		return false
	}
	if t.State() != task.Pending {
		n.log.Warn("attempted to add task that is not pending",
			zap.Uint32("task_id", t.ID), zap.Stringer("state", t.State()))
		return false
	}
	if len(n.tasks) >= n.MaxConcurrency {
		n.log.Warn("attempted to add task to full node", zap.Uint32("task_id", t.ID))
		return false
	}

	data, err := rpc.EncodeSubmit(t.Payload())
	if err != nil {
		n.log.Warn("encode task failed", zap.Uint32("task_id", t.ID), zap.Error(err))
		return false
	}
	if err := n.conn.Send(data); err != nil {
		n.log.Warn("send task failed", zap.Uint32("task_id", t.ID), zap.Error(err))
		return false
	}
	if !t.Transition(task.Pending, task.Running) {
		// the send already happened; tell the worker to drop it
		_ = n.conn.Send(rpc.EncodeStop(t.ID))
		return false
	}
	n.tasks[t.ID] = t
	t.NodeID = n.Key
	n.log.Debug("task assigned", zap.Uint32("task_id", t.ID), zap.Int("in_flight", len(n.tasks)))
	return true
}

// RemoveTask drops id from the in-flight set, optionally asking the worker to
// stop it. It reports whether a slot was freed.
func (n *Node) RemoveTask(id uint32, sendStop bool) bool {
	if n.IsConnected() && sendStop {
		if err := n.conn.Send(rpc.EncodeStop(id)); err != nil {
			n.log.Debug("send stop failed", zap.Uint32("task_id", id), zap.Error(err))
		}
	}
	if _, ok := n.tasks[id]; !ok {
		return false
	}
	delete(n.tasks, id)
	return true
}

// DetachTasks empties the in-flight set and returns what it held.
func (n *Node) DetachTasks() []*task.Task {
	out := make([]*task.Task, 0, len(n.tasks))
	for id, t := range n.tasks {
		out = append(out, t)
		delete(n.tasks, id)
	}
	return out
}

// Attach replaces the current connection, closing the previous one.
func (n *Node) Attach(conn rpc.Conn, now time.Time) {
	n.Disconnect()
	n.conn = conn
	n.connectedAt = now
	n.lastSeen = now
}

// Disconnect closes the attached connection, if any. Close errors are logged
// and swallowed.
func (n *Node) Disconnect() {
	if n.conn == nil {
		return
	}
	if err := n.conn.Close(rpc.CloseBye, "Bye"); err != nil {
		n.log.Debug("error closing previous connection", zap.Error(err))
	}
	n.conn = nil
}

// Touch records liveness.
func (n *Node) Touch(now time.Time) {
	n.lastSeen = now
}

func (n *Node) LastSeen() time.Time {
	return n.lastSeen
}

// Info is a read-only view of a node for status listings.
type Info struct {
	Key            string    `json:"key"`
	Model          string    `json:"model"`
	Status         Status    `json:"status"`
	InFlight       int       `json:"in_flight"`
	MaxConcurrency int       `json:"max_concurrency"`
	LastSeen       time.Time `json:"last_seen"`
	ConnectedAt    time.Time `json:"connected_at"`
}

func (n *Node) Info() Info {
	st := Disconnected
	if n.IsConnected() {
		st = Alive
	}
	return Info{
		Key:            n.Key,
		Model:          n.Model,
		Status:         st,
		InFlight:       len(n.tasks),
		MaxConcurrency: n.MaxConcurrency,
		LastSeen:       n.lastSeen,
		ConnectedAt:    n.connectedAt,
	}
}
