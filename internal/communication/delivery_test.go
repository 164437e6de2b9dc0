package communication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransportFailed = errors.New("transport failed")

type stubTransport struct {
	mu   sync.Mutex
	sent []*Message
	fail map[string]bool
}

func (s *stubTransport) Send(ctx context.Context, instanceID string, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[instanceID] {
		return errTransportFailed
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestDeliveryService_SendAppliesProtocolAndTracksAck(t *testing.T) {
	router := NewRouter(nil, 0)
	router.Subscribe("crypto-verification", "w1")
	matrix := NewProtocolMatrix()
	transport := &stubTransport{fail: map[string]bool{}}
	d := NewDeliveryService(router, matrix, transport, DefaultDeliveryConfig())

	msg := &Message{
		Sender:           "evidence-collection",
		Recipient:        ToWorkerKind("crypto-verification"),
		Type:             MessageTaskRequest,
		RequiresResponse: true,
	}
	require.NoError(t, d.Send(context.Background(), msg))

	assert.Equal(t, 1, transport.count())
	assert.True(t, msg.Encrypted)
	assert.NotEmpty(t, msg.Checksum)

	d.mu.Lock()
	_, pending := d.pending[msg.ID]
	d.mu.Unlock()
	assert.True(t, pending)
}

func TestDeliveryService_AckRemovesPending(t *testing.T) {
	router := NewRouter(nil, 0)
	router.Subscribe("k", "w1")
	d := NewDeliveryService(router, NewProtocolMatrix(), &stubTransport{fail: map[string]bool{}}, DefaultDeliveryConfig())

	msg := &Message{Sender: "s", Recipient: ToWorkerKind("k"), RequiresResponse: true}
	require.NoError(t, d.Send(context.Background(), msg))

	d.Ack(msg.ID)
	d.mu.Lock()
	_, pending := d.pending[msg.ID]
	d.mu.Unlock()
	assert.False(t, pending)

	// acking again is a no-op, not a panic
	d.Ack(msg.ID)
}

func TestDeliveryService_SweepExpiresAndRetries(t *testing.T) {
	router := NewRouter(nil, 0)
	router.Subscribe("k", "w1")
	transport := &stubTransport{fail: map[string]bool{}}
	cfg := DeliveryConfig{SweepInterval: time.Hour, DefaultResponseTimeout: time.Millisecond}
	d := NewDeliveryService(router, NewProtocolMatrix(), transport, cfg)

	msg := &Message{Sender: "s", Recipient: ToWorkerKind("k"), RequiresResponse: true, MaxRetries: 3}
	require.NoError(t, d.Send(context.Background(), msg))
	time.Sleep(5 * time.Millisecond)

	d.sweep(context.Background())
	assert.Equal(t, 1, msg.RetryCount)

	d.mu.Lock()
	_, stillPending := d.pending[msg.ID]
	d.mu.Unlock()
	assert.False(t, stillPending, "expired message removed from pending before retrying")
}

func TestDeliveryService_ExhaustedRetriesDropped(t *testing.T) {
	router := NewRouter(nil, 0)
	router.Subscribe("k", "w1")
	transport := &stubTransport{fail: map[string]bool{}}
	cfg := DeliveryConfig{SweepInterval: time.Hour, DefaultResponseTimeout: time.Millisecond}
	d := NewDeliveryService(router, NewProtocolMatrix(), transport, cfg)

	msg := &Message{Sender: "s", Recipient: ToWorkerKind("k"), RequiresResponse: true, MaxRetries: 0}
	require.NoError(t, d.Send(context.Background(), msg))
	time.Sleep(5 * time.Millisecond)

	d.sweep(context.Background())
	assert.Equal(t, 0, msg.RetryCount, "exhausted message is not retried")
}
