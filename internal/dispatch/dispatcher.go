// Package dispatch matches queued generation tasks to connected compute nodes
// and drives every task to exactly one terminal event.
//
// A Dispatcher is a self-contained context: it owns the node registry, the
// per-model pending queues and the live task table. A single mutex guards all
// of them because the invariants (one node per task, in-flight count within
// the node's limit, a task queued only while pending) span those structures.
// Nothing done under the lock blocks on the network: node writes go to the
// session send queue and client output to the task's event stream.
package dispatch

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"llmrouter/backend/internal/moderation"
	"llmrouter/backend/internal/node"
	"llmrouter/backend/internal/task"
	"llmrouter/backend/internal/utils"
)

type Options struct {
	AdmissionTimeout   time.Duration
	CompletionTimeout  time.Duration
	LivenessTimeout    time.Duration // 0 disables the dead node sweep
	CancelOnDisconnect bool
	RecentMessages     int
	Window             moderation.Window
	Models             []string // models accepted before any node connects
}

func (o *Options) setDefaults() {
	if o.AdmissionTimeout <= 0 {
		o.AdmissionTimeout = 30 * time.Second
	}
	if o.CompletionTimeout <= 0 {
		o.CompletionTimeout = 600 * time.Second
	}
	if o.RecentMessages <= 0 {
		o.RecentMessages = 3
	}
	if o.Window.ChunkSize <= 0 {
		o.Window = moderation.DefaultWindow
	}
}

// Submission is a preprocessed chat request.
type Submission struct {
	Model        string
	System       string
	Messages     []task.Message
	Temperature  float64
	MaxNewTokens int
}

type Dispatcher struct {
	mu     sync.Mutex
	opts   Options
	filter *moderation.Filter
	nodes  *node.Registry
	queues map[string]*task.Queue
	live   map[uint32]*task.Task
	ids    *utils.IDAllocator
	now    func() time.Time
	log    *zap.Logger
}

func New(opts Options, filter *moderation.Filter, log *zap.Logger) *Dispatcher {
	opts.setDefaults()
	d := &Dispatcher{
		opts:   opts,
		filter: filter,
		nodes:  node.NewRegistry(log),
		queues: make(map[string]*task.Queue),
		live:   make(map[uint32]*task.Task),
		ids:    utils.NewIDAllocator(),
		now:    time.Now,
		log:    log.Named("dispatch"),
	}
	for _, m := range opts.Models {
		d.queues[m] = task.NewQueue()
	}
	return d
}

// Submit admits a chat request: it runs pre-admission moderation, creates the
// task, dispatches or queues it and arms its timeouts.
func (d *Dispatcher) Submit(sub Submission, user task.User) (*task.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if idx, flagged := d.filter.CheckMessages(sub.Messages, d.opts.RecentMessages); flagged {
		d.log.Info("moderation triggered on request",
			zap.String("user", user.Name), zap.Int("message", idx), zap.Bool("bypass", user.BypassModeration))
		if !user.BypassModeration {
			return nil, ErrModeration
		}
	}
	q, ok := d.queues[sub.Model]
	if !ok {
		d.log.Info("unknown model", zap.String("model", sub.Model))
		return nil, ErrUnknownModel
	}
	// the payload must encode, or the task would sit at the head of its queue
	if math.IsNaN(sub.Temperature) || math.IsInf(sub.Temperature, 0) {
		d.log.Info("rejected non-finite temperature", zap.String("user", user.Name))
		return nil, ErrInvalidRequest
	}

	id := d.ids.Next(func(id uint32) bool {
		_, live := d.live[id]
		return live
	})
	t := task.New(id, sub.Model)
	t.System = sub.System
	t.Messages = sub.Messages
	t.Temperature = sub.Temperature
	t.MaxNewTokens = sub.MaxNewTokens
	t.User = user
	t.CreatedAt = d.now()
	d.live[id] = t

	d.queueTask(q, t)
	d.armTimers(t)

	d.log.Debug("task admitted",
		zap.Uint32("task_id", id), zap.String("model", sub.Model),
		zap.String("user", user.Name), zap.Stringer("state", t.State()))
	return t, nil
}

// Cancel terminates t on behalf of the caller. It is a no-op once the task is
// done and emits no event.
func (d *Dispatcher) Cancel(t *task.Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked(t, true)
}

// Run sweeps for dead nodes until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.opts.LivenessTimeout <= 0 {
		<-ctx.Done()
		return
	}
	tick := time.NewTicker(d.opts.LivenessTimeout / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			d.Sweep(now)
		}
	}
}

// Sweep disconnects nodes whose last probe is older than the liveness timeout.
func (d *Dispatcher) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	dead := d.nodes.DetectDead(now, d.opts.LivenessTimeout)
	for _, n := range dead {
		d.log.Warn("node missed liveness deadline",
			zap.String("node", n.Key), zap.Time("last_seen", n.LastSeen()))
		d.dropConnection(n)
	}
	return len(dead)
}

// Status is a snapshot of nodes and queues.
type Status struct {
	Nodes  []node.Info    `json:"nodes"`
	Queues map[string]int `json:"queues"`
	Live   int            `json:"live_tasks"`
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{Queues: make(map[string]int, len(d.queues)), Live: len(d.live)}
	for _, n := range d.nodes.List() {
		st.Nodes = append(st.Nodes, n.Info())
	}
	for m, q := range d.queues {
		st.Queues[m] = q.Pending()
	}
	return st
}

// Models lists the models tasks can be submitted for.
func (d *Dispatcher) Models() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.queues))
	for m := range d.queues {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
