package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	mu    sync.Mutex
	calls int
	types []EventType
}

func (h *countingHandler) Handle(ctx context.Context, event *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.types = append(h.types, event.Type)
	return nil
}

func (h *countingHandler) CanHandle(eventType EventType) bool { return true }
func (h *countingHandler) Priority() int                      { return 0 }
func (h *countingHandler) Name() string                       { return "counting_handler" }

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestProcessor_PublishDeliversToRegisteredHandler(t *testing.T) {
	p := NewProcessor(DefaultProcessorConfig())
	require.NoError(t, p.Start())
	defer p.Stop()

	h := &countingHandler{}
	require.NoError(t, p.RegisterHandler(h, EventTypeContextUpdate))

	require.NoError(t, p.PublishEvent(&Event{
		Type: EventTypeContextUpdate,
		Data: &ContextUpdateData{TaskID: "t1", TenantID: "tenant1"},
	}))

	assert.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestProcessor_PublishIgnoresUnregisteredEventType(t *testing.T) {
	p := NewProcessor(DefaultProcessorConfig())
	require.NoError(t, p.Start())
	defer p.Stop()

	h := &countingHandler{}
	require.NoError(t, p.RegisterHandler(h, EventTypeCapabilityAnnounce))

	require.NoError(t, p.PublishEvent(&Event{Type: EventTypeContextUpdate}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.count())
}

func TestProcessor_PublishBeforeStartFails(t *testing.T) {
	p := NewProcessor(DefaultProcessorConfig())
	err := p.PublishEvent(&Event{Type: EventTypeSystemStartup})
	assert.Error(t, err)
}

func TestLoggingHandler_HandlesKnownDataTypes(t *testing.T) {
	h := NewLoggingHandler()
	assert.True(t, h.CanHandle(EventTypeContextUpdate))
	assert.Equal(t, "logging_handler", h.Name())

	require.NoError(t, h.Handle(context.Background(), &Event{
		ID:   "e1",
		Type: EventTypeContextUpdate,
		Data: &ContextUpdateData{TaskID: "t1"},
	}))
	require.NoError(t, h.Handle(context.Background(), &Event{
		ID:   "e2",
		Type: EventTypeCapabilityAnnounce,
		Data: &CapabilityAnnounceData{InstanceID: "w1"},
	}))
	require.NoError(t, h.Handle(context.Background(), &Event{ID: "e3", Type: EventTypeSystemStartup}))
}
