package node

import (
	"time"

	"go.uber.org/zap"
)

// Registry holds every node handle ever connected, in registration order.
// It is not safe for concurrent use; the dispatcher serializes access.
type Registry struct {
	order []*Node
	nodes map[string]*Node
	log   *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		nodes: make(map[string]*Node),
		log:   log.Named("node"),
	}
}

// GetOrCreate returns the handle for (model, name), creating it on first use.
// An existing handle takes the newly declared concurrency.
func (r *Registry) GetOrCreate(model, name string, maxConcurrency int) (*Node, bool) {
	key := model + "-" + name
	if n, ok := r.nodes[key]; ok {
		n.MaxConcurrency = maxConcurrency
		return n, false
	}
	n := newNode(model, name, maxConcurrency, r.log)
	r.nodes[key] = n
	r.order = append(r.order, n)
	return n, true
}

func (r *Registry) Get(key string) (*Node, bool) {
	n, ok := r.nodes[key]
	return n, ok
}

// ForModel lists the nodes offering model in registration order.
func (r *Registry) ForModel(model string) []*Node {
	var out []*Node
	for _, n := range r.order {
		if n.Model == model {
			out = append(out, n)
		}
	}
	return out
}

func (r *Registry) List() []*Node {
	out := make([]*Node, len(r.order))
	copy(out, r.order)
	return out
}

// DetectDead returns connected nodes that have not been seen for longer than
// deadTimeout.
func (r *Registry) DetectDead(now time.Time, deadTimeout time.Duration) []*Node {
	var dead []*Node
	for _, n := range r.order {
		if !n.IsConnected() {
			continue
		}
		if now.Sub(n.lastSeen) > deadTimeout {
			dead = append(dead, n)
		}
	}
	return dead
}
