package communication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Transport delivers a formatted message to one concrete instance id,
// owned by whatever actually talks to worker agents (an HTTP client, a
// queue publisher) in the wired application.
type Transport interface {
	Send(ctx context.Context, instanceID string, msg *Message) error
}

// pendingAck tracks a requires-response message awaiting acknowledgment.
type pendingAck struct {
	msg        *Message
	deadline   time.Time
	instanceID string
}

// DeliveryConfig governs the timeout sweeper cadence and default response
// timeout (spec §6 configuration option table:
// default_message_response_timeout_s).
type DeliveryConfig struct {
	SweepInterval         time.Duration
	DefaultResponseTimeout time.Duration
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		SweepInterval:          10 * time.Second,
		DefaultResponseTimeout: 30 * time.Second,
	}
}

// DeliveryService is the Delivery Service (C8): formats messages per the
// protocol matrix, routes and transports them, tracks acknowledgments
// against a response-timeout deadline, and retries unacknowledged
// messages with exponential backoff (spec §4.6). Grounded in the
// teacher's internal/communication/message_service.go ack-bookkeeping
// idiom and poller.go's background-sweep loop shape.
type DeliveryService struct {
	router    *Router
	protocols *ProtocolMatrix
	transport Transport
	cfg       DeliveryConfig

	mu      sync.Mutex
	pending map[string]*pendingAck // message id -> pending ack

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDeliveryService(router *Router, protocols *ProtocolMatrix, transport Transport, cfg DeliveryConfig) *DeliveryService {
	if cfg.SweepInterval <= 0 {
		cfg = DefaultDeliveryConfig()
	}
	return &DeliveryService{
		router:    router,
		protocols: protocols,
		transport: transport,
		cfg:       cfg,
		pending:   make(map[string]*pendingAck),
		stopCh:    make(chan struct{}),
	}
}

// Send formats msg per the protocol matrix, resolves recipients via the
// Router, and transports it to each. If requires-response, the message is
// tracked with a deadline = now + response timeout (or the configured
// default).
func (d *DeliveryService) Send(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	recipientKind := ""
	if msg.Recipient.Kind == RecipientWorkerKind {
		recipientKind = msg.Recipient.Value
	}
	proto := d.protocols.Get(msg.Sender, recipientKind)
	msg.Encrypted = proto.RequireEncryption
	msg.Compressed = proto.RequireCompression
	if proto.RequireChecksum && msg.Checksum == "" {
		msg.Checksum = checksumOf(msg)
	}
	if proto.PriorityOverride != "" {
		msg.Priority = proto.PriorityOverride
	}

	if msg.RequiresResponse && msg.ResponseTimeout == nil {
		d := d.cfg.DefaultResponseTimeout
		msg.ResponseTimeout = &d
	}

	instances := d.router.Route(msg)
	for _, id := range instances {
		d.router.MarkInFlight(id)
		if err := d.transport.Send(ctx, id, msg); err != nil {
			logrus.WithError(err).WithField("instance_id", id).Warn("message transport failed")
			continue
		}
		d.router.MarkDelivered(id)

		if msg.RequiresResponse {
			d.mu.Lock()
			d.pending[msg.ID] = &pendingAck{msg: msg, deadline: msg.Timestamp.Add(*msg.ResponseTimeout), instanceID: id}
			d.mu.Unlock()
		}
	}
	return nil
}

// Ack removes a message from the pending-acknowledgment set; acking an
// already-acked or unknown message is a no-op (spec §8 boundary:
// "Ack of an already-acked message is a no-op").
func (d *DeliveryService) Ack(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, messageID)
}

// Start runs the deadline sweeper until ctx is cancelled.
func (d *DeliveryService) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.sweep(ctx)
			}
		}
	}()
}

func (d *DeliveryService) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// sweep expires deadlines, retrying unacknowledged messages with
// exponential backoff (2^attempt seconds) up to max-retries; exhausted
// messages are dropped from pending and counted as failed by the caller
// observing the log.
func (d *DeliveryService) sweep(ctx context.Context) {
	now := time.Now().UTC()

	d.mu.Lock()
	var expired []*pendingAck
	for id, p := range d.pending {
		if now.After(p.deadline) {
			expired = append(expired, p)
			delete(d.pending, id)
		}
	}
	d.mu.Unlock()

	for _, p := range expired {
		if p.msg.RetryCount >= p.msg.MaxRetries {
			logrus.WithField("message_id", p.msg.ID).Warn("message delivery exhausted retries")
			continue
		}
		p.msg.RetryCount++
		backoff := time.Duration(1<<uint(p.msg.RetryCount)) * time.Second
		logrus.WithFields(logrus.Fields{"message_id": p.msg.ID, "attempt": p.msg.RetryCount, "backoff": backoff}).Debug("retrying unacknowledged message")
		go func(p *pendingAck) {
			time.Sleep(backoff)
			_ = d.Send(ctx, p.msg)
		}(p)
	}
}

// checksumOf produces a short integrity tag over the payload; a real
// deployment would use a cryptographic hash keyed to the transport, kept
// here as a stand-in for the protocol matrix's "integrity checksum" flag.
func checksumOf(msg *Message) string {
	h := uint32(2166136261)
	for _, b := range []byte(msg.ID + msg.Sender + string(msg.Type)) {
		h ^= uint32(b)
		h *= 16777619
	}
	return uuid.NewSHA1(uuid.Nil, []byte{byte(h), byte(h >> 8), byte(h >> 16), byte(h >> 24)}).String()
}
