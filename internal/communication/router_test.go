package communication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubHealth struct {
	unhealthy map[string]bool
}

func (s *stubHealth) IsHealthy(instanceID string) bool { return !s.unhealthy[instanceID] }

func TestRouter_RouteByWorkerKind(t *testing.T) {
	r := NewRouter(nil, 0)
	r.Subscribe("security-scan", "w1")
	r.Subscribe("security-scan", "w2")

	msg := &Message{Recipient: ToWorkerKind("security-scan")}
	got := r.Route(msg)
	assert.ElementsMatch(t, []string{"w1", "w2"}, got)
}

func TestRouter_RouteByInstance(t *testing.T) {
	r := NewRouter(nil, 0)
	msg := &Message{Recipient: ToInstance("w1")}
	assert.Equal(t, []string{"w1"}, r.Route(msg))
}

func TestRouter_RouteBroadcastUnionsAcrossKinds(t *testing.T) {
	r := NewRouter(nil, 0)
	r.Subscribe("security-scan", "w1")
	r.Subscribe("risk-assessment", "w2")

	got := r.Route(&Message{Recipient: ToBroadcast()})
	assert.ElementsMatch(t, []string{"w1", "w2"}, got)
}

func TestRouter_RouteByChannel(t *testing.T) {
	r := NewRouter(nil, 0)
	r.SubscribeChannel("ops-alerts", "w1")

	got := r.Route(&Message{Recipient: ToChannel("ops-alerts")})
	assert.Equal(t, []string{"w1"}, got)
}

func TestRouter_UnhealthyRecipientFiltered(t *testing.T) {
	health := &stubHealth{unhealthy: map[string]bool{"w1": true}}
	r := NewRouter(health, 0)
	r.Subscribe("security-scan", "w1")
	r.Subscribe("security-scan", "w2")

	got := r.Route(&Message{Recipient: ToWorkerKind("security-scan")})
	assert.Equal(t, []string{"w2"}, got)
}

func TestRouter_SoftCapFiltersOverloadedRecipient(t *testing.T) {
	r := NewRouter(nil, 1)
	r.Subscribe("security-scan", "w1")
	r.MarkInFlight("w1")

	got := r.Route(&Message{Recipient: ToWorkerKind("security-scan")})
	assert.Empty(t, got)

	r.MarkDelivered("w1")
	got = r.Route(&Message{Recipient: ToWorkerKind("security-scan")})
	assert.Equal(t, []string{"w1"}, got)
}

func TestRouter_MarkDeliveredNeverGoesNegative(t *testing.T) {
	r := NewRouter(nil, 0)
	r.MarkDelivered("w1")
	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Equal(t, 0, r.inFlight["w1"])
}

func TestRouter_Unsubscribe(t *testing.T) {
	r := NewRouter(nil, 0)
	r.Subscribe("security-scan", "w1")
	r.Unsubscribe("security-scan", "w1")
	assert.Empty(t, r.Route(&Message{Recipient: ToWorkerKind("security-scan")}))
}
