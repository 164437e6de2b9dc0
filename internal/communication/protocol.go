package communication

// Protocol is a sender->recipient contract: whether encryption/integrity
// checksums are required, a priority override, and required payload
// fields, consulted by the Delivery Service before transport (spec §4.6
// "Protocol matrix (examples)"). DeliveryService.Send applies the
// encryption, compression, checksum and priority flags; it does not check
// a message's payload against RequiredFields.
type Protocol struct {
	RequireEncryption bool
	RequireChecksum   bool
	RequireCompression bool
	PriorityOverride  Priority // empty means no override
	RequiredFields    []string
}

// defaultProtocol is the fallback for unknown sender/recipient pairs: no
// encryption, Normal priority (spec: "Unknown pairs default to a generic
// protocol (no encryption, Normal priority)").
var defaultProtocol = Protocol{PriorityOverride: PriorityNormal}

type protocolKey struct {
	senderKind    string
	recipientKind string
}

// ProtocolMatrix holds the sender-kind -> recipient-kind contract table,
// grounded in the Python original's CommunicationProtocol.get_protocol
// (agent_communication.py), seeded here with the worker-kind pairs that
// carry elevated requirements in this domain (evidence handling and
// cryptographic verification demand integrity/encryption; everything else
// falls back to the generic protocol).
type ProtocolMatrix struct {
	entries map[protocolKey]Protocol
}

func NewProtocolMatrix() *ProtocolMatrix {
	m := &ProtocolMatrix{entries: make(map[protocolKey]Protocol)}
	m.Set("evidence-collection", "crypto-verification", Protocol{
		RequireEncryption: true,
		RequireChecksum:   true,
		RequiredFields:    []string{"evidence_id", "hash"},
	})
	m.Set("crypto-verification", "evidence-collection", Protocol{
		RequireChecksum:  true,
		PriorityOverride: PriorityHigh,
	})
	m.Set("security-scan", "risk-assessment", Protocol{
		RequireCompression: true,
	})
	return m
}

func (m *ProtocolMatrix) Set(senderKind, recipientKind string, p Protocol) {
	m.entries[protocolKey{senderKind, recipientKind}] = p
}

// Get returns the protocol for a sender/recipient worker-kind pair,
// falling back to defaultProtocol when no specific entry exists.
func (m *ProtocolMatrix) Get(senderKind, recipientKind string) Protocol {
	if p, ok := m.entries[protocolKey{senderKind, recipientKind}]; ok {
		return p
	}
	return defaultProtocol
}
