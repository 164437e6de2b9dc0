package communication

import (
	"sync"
)

// HealthFilter reports whether an instance is currently healthy enough to
// receive messages. internal/registry.Service has no IsHealthy method;
// internal/app's registryHealthFilter adapts the registry to this
// interface (a narrow local interface, the same decoupling idiom used
// between internal/task and internal/registry).
type HealthFilter interface {
	IsHealthy(instanceID string) bool
}

// DefaultSoftCap bounds in-flight messages per recipient instance (load
// balancing filter, spec §4.6 "per-recipient soft cap on in-flight
// messages").
const DefaultSoftCap = 50

// Router is the Message Router (C7): it owns the routing table
// (worker-kind -> instance ids, channel -> instance ids) and resolves a
// message's logical Recipient into concrete instance ids, filtered by
// health and in-flight load. Grounded in the teacher's
// internal/communication/pubsub_service.go subscription-table shape,
// adapted from publisher/subscriber matching to worker-kind/channel
// routing.
type Router struct {
	mu       sync.RWMutex
	byKind   map[string]map[string]bool // worker-kind -> instance ids
	byChannel map[string]map[string]bool // channel name -> instance ids
	inFlight map[string]int             // instance id -> in-flight count

	health  HealthFilter
	softCap int
}

func NewRouter(health HealthFilter, softCap int) *Router {
	if softCap <= 0 {
		softCap = DefaultSoftCap
	}
	return &Router{
		byKind:    make(map[string]map[string]bool),
		byChannel: make(map[string]map[string]bool),
		inFlight:  make(map[string]int),
		health:    health,
		softCap:   softCap,
	}
}

// Subscribe registers instanceID as a member of worker-kind kind, done at
// register_worker time per spec §4.1.
func (r *Router) Subscribe(kind, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKind[kind] == nil {
		r.byKind[kind] = make(map[string]bool)
	}
	r.byKind[kind][instanceID] = true
}

func (r *Router) Unsubscribe(kind, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKind[kind], instanceID)
}

func (r *Router) SubscribeChannel(channel, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byChannel[channel] == nil {
		r.byChannel[channel] = make(map[string]bool)
	}
	r.byChannel[channel][instanceID] = true
}

func (r *Router) UnsubscribeChannel(channel, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byChannel[channel], instanceID)
}

// Route resolves a message's Recipient to the concrete instance ids
// eligible to receive it (spec §4.6 Message Router): worker-kind -> its
// subscriber set, instance id -> itself, broadcast -> union across all
// kinds, channel:<name> -> its subscribers. Recipients failing the health
// check or at/over the soft cap are dropped.
func (r *Router) Route(msg *Message) []string {
	r.mu.RLock()
	var candidates []string
	switch msg.Recipient.Kind {
	case RecipientWorkerKind:
		for id := range r.byKind[msg.Recipient.Value] {
			candidates = append(candidates, id)
		}
	case RecipientInstance:
		candidates = append(candidates, msg.Recipient.Value)
	case RecipientBroadcast:
		seen := make(map[string]bool)
		for _, set := range r.byKind {
			for id := range set {
				if !seen[id] {
					seen[id] = true
					candidates = append(candidates, id)
				}
			}
		}
	case RecipientChannel:
		for id := range r.byChannel[msg.Recipient.Value] {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	var out []string
	for _, id := range candidates {
		if r.health != nil && !r.health.IsHealthy(id) {
			continue
		}
		r.mu.RLock()
		load := r.inFlight[id]
		r.mu.RUnlock()
		if load >= r.softCap {
			continue
		}
		out = append(out, id)
	}
	return out
}

// MarkInFlight and MarkDelivered adjust the per-instance in-flight
// counter the Router consults for load balancing.
func (r *Router) MarkInFlight(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight[instanceID]++
}

func (r *Router) MarkDelivered(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[instanceID] > 0 {
		r.inFlight[instanceID]--
	}
}
