// Package channel implements the secure channel state machine: ephemeral key
// exchange, encrypted certificate delivery, session establishment and
// resumption, per-message AEAD, acknowledgements, and pending-exchange
// signalling. One Channel serves every remote address a process talks to.
package channel

import "net"

// Role records which side of a session establishment a node played. There
// is no explicit confirmation packet in the wire protocol; role is purely a
// local bookkeeping fact used to pick the right event kind.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Kind enumerates the semantic events the channel surfaces to its client,
// the Go-native form of the global callback wiring in the source: a tagged
// variant instead of a single string constant.
type Kind int

const (
	// KindSessionsReady fires once, when the channel starts listening.
	KindSessionsReady Kind = iota
	// KindHandshakeOK fires when a fresh handshake installs a session.
	// Event.Role distinguishes HANDSHAKE_OK_INIT / HANDSHAKE_OK_RESP.
	KindHandshakeOK
	// KindSessionRestored fires when a resumption installs a session.
	// Event.Role distinguishes SESSION_RESTORED_INIT / SESSION_RESTORED_RESP.
	KindSessionRestored
	// KindReconnectTimeout fires when a pending reconnect marker expires
	// with no ReconnectResp.
	KindReconnectTimeout
	// KindPeerSendingPending fires on receipt of PendingSend.
	KindPeerSendingPending
	// KindSendMyPending fires on receipt of the matching PendingDone: the
	// peer has finished its flush, so the coordinator should start its own.
	KindSendMyPending
	// KindAck fires when an Ack packet decrypts; Event.MsgID is the acked id.
	KindAck
	// KindMessage fires when a Msg packet decrypts; Event.Text is the
	// plaintext and Event.MsgID is the recovered id (may be empty).
	KindMessage
	// KindSessionLost is synthesized by the coordinator when the
	// ack-timeout scanner tears a session down for going quiet; the
	// channel itself never emits it.
	KindSessionLost
)

// Event is the single structured notification the channel emits upward.
// Addr is nil for KindSessionsReady, matching the source's `addr = null`
// sentinel, and for the coordinator's synthesized KindSessionLost.
type Event struct {
	Kind       Kind
	Addr       *net.UDPAddr
	ContactKey string
	PeerName   string
	Role       Role
	MsgID      string
	Text       string
}

// Callback receives every event the channel produces, invoked on the
// channel's own goroutine; it must not block for long.
type Callback func(Event)
