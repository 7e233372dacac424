package channel

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/lanchat/lanchat/pkg/identity"
	"github.com/lanchat/lanchat/pkg/log"
	"github.com/lanchat/lanchat/pkg/metrics"
	"github.com/lanchat/lanchat/pkg/store"
	"github.com/lanchat/lanchat/pkg/wire"
)

const (
	// DefaultReconnectDeadline is how long a ReconnectReq waits for its
	// ReconnectResp before the tentative session is torn down. Tuned for a
	// LAN, where a slow peer is more likely a dead peer.
	DefaultReconnectDeadline = 100 * time.Millisecond

	// reconnectScanInterval is the resolution of the reconnect-timeout
	// scanner.
	reconnectScanInterval = 100 * time.Millisecond
)

// Credential is the slice of the identity the channel needs: the
// certificate to transmit and the static key pair for session derivation.
type Credential interface {
	CertificateDER() []byte
	StaticPublicKey() [32]byte
	Exchange(peerPub [32]byte) ([32]byte, error)
}

// ContactStore is the slice of the encrypted store the channel borrows: it
// looks up stored session keys for resumption and writes back session
// material after a fresh handshake. The channel never owns the store.
type ContactStore interface {
	Contacts() map[string]*store.Contact
	UpsertContact(key string, fields map[string]any) error
	SetConnected(key string, connected bool) error
	SessionKey(key string) ([32]byte, bool)
}

// Config holds channel configuration.
type Config struct {
	// ListenAddr is the UDP address to bind, e.g. "0.0.0.0:9999".
	ListenAddr string
	// ReconnectDeadline overrides DefaultReconnectDeadline when non-zero.
	ReconnectDeadline time.Duration
}

// session is an established secure session with one remote address.
type session struct {
	aead     cipher.AEAD
	peerName string
}

// ephemeralSlot holds handshake-in-progress state for one remote address.
// It exists only between the first EphemeralKey packet and the handshake
// packet that installs (or aborts) the session.
type ephemeralSlot struct {
	priv     [32]byte
	pub      [32]byte
	peerPub  [32]byte
	tempAEAD cipher.AEAD
}

// reconnectMarker tracks an outstanding ReconnectReq awaiting its response.
type reconnectMarker struct {
	contactKey string
	deadline   time.Time
}

// Channel is the secure channel state machine. One Channel owns the UDP
// socket and serves every remote address; per-address state lives in the
// sessions, ephemeral, and reconnect maps.
type Channel struct {
	cred     Credential
	contacts ContactStore
	cb       Callback
	cfg      Config

	cid  wire.CID
	conn *net.UDPConn

	mu          sync.Mutex
	sessions    map[string]*session
	ephemeral   map[string]*ephemeralSlot
	reconnect   map[string]*reconnectMarker
	pendingSent map[string]bool
	// queued holds events produced while c.mu is held; they are delivered
	// to the callback after the mutex is released, so the callback may call
	// back into the channel without deadlocking. Delivery order matches
	// production order.
	queued []Event

	cancel context.CancelFunc
	wg     sync.WaitGroup

	llog zerolog.Logger
}

// New creates a channel over the given collaborators. Start must be called
// before any traffic flows.
func New(cred Credential, contacts ContactStore, cb Callback, cfg Config) *Channel {
	if cfg.ReconnectDeadline == 0 {
		cfg.ReconnectDeadline = DefaultReconnectDeadline
	}
	return &Channel{
		cred:        cred,
		contacts:    contacts,
		cb:          cb,
		cfg:         cfg,
		cid:         wire.NewCID(),
		sessions:    make(map[string]*session),
		ephemeral:   make(map[string]*ephemeralSlot),
		reconnect:   make(map[string]*reconnectMarker),
		pendingSent: make(map[string]bool),
		llog:        log.WithComponent("channel"),
	}
}

// Start binds the UDP socket, emits SessionsReady, and launches the read
// loop and the reconnect-timeout scanner. It returns once the socket is
// listening; ctx cancellation (or Stop) shuts everything down.
func (c *Channel) Start(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("channel: bad listen address %q: %w", c.cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("channel: failed to bind %q: %w", c.cfg.ListenAddr, err)
	}
	c.conn = conn

	ctx, c.cancel = context.WithCancel(ctx)

	c.llog.Info().Str("addr", conn.LocalAddr().String()).Msg("listening")
	c.deliver(Event{Kind: KindSessionsReady, PeerName: "System"})

	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.reconnectScanner(ctx)
	return nil
}

// Stop cancels the background loops and closes the socket.
func (c *Channel) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.wg.Wait()
}

// LocalAddr returns the bound UDP address, for logging and tests.
func (c *Channel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Channel) readLoop(ctx context.Context) {
	defer c.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.llog.Debug().Err(err).Msg("read error")
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		c.handleDatagram(datagram, addr)
	}
}

// handleDatagram dispatches one datagram. Datagram processing is serialised
// under the channel mutex, so per-address state is never mutated
// mid-packet.
func (c *Channel) handleDatagram(datagram []byte, addr *net.UDPAddr) {
	typ, _, payload, ok := wire.SplitHeader(datagram)
	if !ok {
		return
	}
	metrics.PacketsReceived.WithLabelValues(wire.TypeName(typ)).Inc()

	c.mu.Lock()
	c.touch(addr)

	switch typ {
	case wire.TypeEphemeralKey:
		c.handleEphemeralKey(payload, addr)
	case wire.TypeHandshakeInit:
		c.handleHandshake(payload, addr, false)
	case wire.TypeHandshakeResp:
		c.handleHandshake(payload, addr, true)
	case wire.TypeMsg:
		c.handleMsg(payload, addr)
	case wire.TypeAck:
		c.handleAck(payload, addr)
	case wire.TypeReconnectReq:
		c.handleReconnectReq(addr)
	case wire.TypeReconnectResp:
		c.handleReconnectResp(addr)
	case wire.TypePendingSend:
		c.handlePendingSend(addr)
	case wire.TypePendingDone:
		c.handlePendingDone(addr)
	default:
		c.llog.Debug().Str("type", wire.TypeName(typ)).Str("peer", addr.String()).Msg("unknown packet type dropped")
	}

	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	for _, ev := range queued {
		c.deliver(ev)
	}
}

// touch refreshes the pending-reconnect marker for addr, so a peer that is
// talking to us, however slowly, is not spuriously timed out mid burst.
func (c *Channel) touch(addr *net.UDPAddr) {
	if m, ok := c.reconnect[addr.String()]; ok {
		m.deadline = time.Now().Add(c.cfg.ReconnectDeadline)
	}
}

// Connect starts talking to a peer. If the store holds a session key for
// the contact (or for any contact whose endpoint matches), the session is
// installed tentatively and resumption is attempted; otherwise a fresh
// handshake begins with an EphemeralKey packet. It returns true when a
// session is already usable (existing or tentatively resumed), false when
// a fresh handshake was started and the caller must wait for HandshakeOK.
func (c *Channel) Connect(ip string, port int, contactKey string) bool {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[addr.String()]; ok {
		return true
	}

	key, name, sessionKey, found := c.lookupStoredSession(ip, port, contactKey)
	if found {
		aead, err := chacha20poly1305.New(sessionKey[:])
		if err == nil {
			c.sessions[addr.String()] = &session{aead: aead, peerName: name}
			c.reconnect[addr.String()] = &reconnectMarker{
				contactKey: key,
				deadline:   time.Now().Add(c.cfg.ReconnectDeadline),
			}
			c.write(wire.EncodeEmpty(wire.TypeReconnectReq, c.cid), addr)
			return true
		}
	}

	c.sendEphemeralKey(addr)
	return false
}

// ConnectFresh starts a fresh handshake unconditionally, bypassing any
// stored session key. Used to fall back after a resumption timeout, where
// retrying the stored key would just time out again.
func (c *Channel) ConnectFresh(ip string, port int) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[addr.String()]; ok {
		return
	}
	c.sendEphemeralKey(addr)
}

// lookupStoredSession resolves a stored session key for resumption: first
// by the explicit contact key, then by scanning for a contact whose
// endpoint matches. Must hold c.mu.
func (c *Channel) lookupStoredSession(ip string, port int, contactKey string) (key, name string, sessionKey [32]byte, found bool) {
	if contactKey != "" {
		if sk, ok := c.contacts.SessionKey(contactKey); ok {
			name = contactKey
			if row := c.contacts.Contacts()[contactKey]; row != nil && row.Name != "" {
				name = row.Name
			}
			return contactKey, name, sk, true
		}
	}
	for k, row := range c.contacts.Contacts() {
		if row.IP == ip && row.Port == port && row.SessionKey != "" {
			if sk, ok := c.contacts.SessionKey(k); ok {
				name = row.Name
				if name == "" {
					name = k
				}
				return k, name, sk, true
			}
		}
	}
	return "", "", sessionKey, false
}

// sendEphemeralKey begins a fresh handshake: generate an ephemeral X25519
// pair, stash it in the ephemeral slot, transmit the public half. Must
// hold c.mu.
func (c *Channel) sendEphemeralKey(addr *net.UDPAddr) {
	slot, err := newEphemeralSlot()
	if err != nil {
		c.llog.Debug().Err(err).Msg("ephemeral key generation failed")
		return
	}
	c.ephemeral[addr.String()] = slot
	c.write(wire.EncodeEphemeralKey(c.cid, slot.pub), addr)
	metrics.HandshakesStarted.Inc()
}

// handleEphemeralKey runs phase 1 of the fresh handshake. Whoever already
// holds an ephemeral slot for addr is the initiator; a side with no slot is
// the responder, generates its own pair, and echoes it back. Both sides
// then derive the temp key and immediately send their wrapped certificate.
func (c *Channel) handleEphemeralKey(payload []byte, addr *net.UDPAddr) {
	peerPub, ok := wire.DecodeEphemeralKey(payload)
	if !ok {
		return
	}

	slot, isInitiator := c.ephemeral[addr.String()]
	if !isInitiator {
		var err error
		slot, err = newEphemeralSlot()
		if err != nil {
			return
		}
		c.ephemeral[addr.String()] = slot
		c.write(wire.EncodeEphemeralKey(c.cid, slot.pub), addr)
	}

	shared, err := x25519(slot.priv, peerPub)
	if err != nil {
		delete(c.ephemeral, addr.String())
		return
	}
	tempKey := blake2s.Sum256(shared[:])
	aead, err := chacha20poly1305.New(tempKey[:])
	if err != nil {
		delete(c.ephemeral, addr.String())
		return
	}
	slot.peerPub = peerPub
	slot.tempAEAD = aead

	if isInitiator {
		c.sendCredentials(addr, wire.TypeHandshakeInit)
	} else {
		c.sendCredentials(addr, wire.TypeHandshakeResp)
	}
}

// sendCredentials runs phase 2: the certificate, AEAD-wrapped under the
// temp key, together with the long-lived static public key. Must hold c.mu.
func (c *Channel) sendCredentials(addr *net.UDPAddr, typ byte) {
	slot, ok := c.ephemeral[addr.String()]
	if !ok || slot.tempAEAD == nil {
		return
	}
	var nonce [wire.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return
	}
	wrapped := slot.tempAEAD.Seal(nil, nonce[:], c.cred.CertificateDER(), nil)
	c.write(wire.EncodeHandshake(typ, c.cid, c.cred.StaticPublicKey(), nonce, wrapped), addr)
}

// handleHandshake completes a fresh handshake from either side. isResponse
// is true when the packet was a HandshakeResp, meaning we initiated.
func (c *Channel) handleHandshake(payload []byte, addr *net.UDPAddr, isResponse bool) {
	if _, ok := c.sessions[addr.String()]; ok {
		return
	}
	slot, ok := c.ephemeral[addr.String()]
	if !ok || slot.tempAEAD == nil {
		return
	}

	peerStatic, nonce, wrapped, ok := wire.DecodeHandshake(payload)
	if !ok {
		return
	}

	certDER, err := slot.tempAEAD.Open(nil, nonce[:], wrapped, nil)
	if err != nil {
		// AEAD failure: possible tampering or corruption. Abort silently.
		delete(c.ephemeral, addr.String())
		metrics.HandshakesFailed.Inc()
		peerLog := log.WithPeer(addr.String())
		peerLog.Debug().Msg("handshake certificate failed to decrypt")
		return
	}

	name, err := identity.NicknameFromCert(certDER)
	if err != nil {
		name = "Unknown"
	}

	shared, err := c.cred.Exchange(peerStatic)
	if err != nil {
		delete(c.ephemeral, addr.String())
		return
	}
	sessionKey := blake2s.Sum256(shared[:])
	aead, err := chacha20poly1305.New(sessionKey[:])
	if err != nil {
		delete(c.ephemeral, addr.String())
		return
	}

	c.sessions[addr.String()] = &session{aead: aead, peerName: name}

	// Reuse an existing contact whose endpoint matches; otherwise key the
	// new contact by the peer's display name.
	contactKey := name
	for k, row := range c.contacts.Contacts() {
		if row.IP == addr.IP.String() && row.Port == addr.Port {
			contactKey = k
			break
		}
	}
	if err := c.contacts.UpsertContact(contactKey, map[string]any{
		"name":        name,
		"ip":          addr.IP.String(),
		"port":        addr.Port,
		"session_key": hex.EncodeToString(sessionKey[:]),
		"peer_cert":   hex.EncodeToString(certDER),
	}); err != nil {
		c.llog.Error().Err(err).Str("contact", contactKey).Msg("failed to persist session material")
	}

	role := RoleResponder
	if isResponse {
		role = RoleInitiator
	}
	metrics.HandshakesCompleted.WithLabelValues(role.String()).Inc()
	metrics.SessionsActive.Set(float64(len(c.sessions)))

	c.queue(Event{
		Kind:       KindHandshakeOK,
		Addr:       addr,
		ContactKey: contactKey,
		PeerName:   name,
		Role:       role,
	})

	delete(c.ephemeral, addr.String())
}

// handleMsg decrypts an incoming message, acknowledges it when it carries
// an id, and surfaces it upward.
func (c *Channel) handleMsg(payload []byte, addr *net.UDPAddr) {
	sess, ok := c.sessions[addr.String()]
	if !ok {
		return
	}
	nonce, ciphertext, ok := wire.DecodeAEAD(payload)
	if !ok {
		return
	}
	plaintext, err := sess.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		peerLog := log.WithPeer(addr.String())
		peerLog.Debug().Msg("message failed to decrypt")
		return
	}
	msgID, text := wire.DecodeMsgPlaintext(plaintext)
	if msgID != "" {
		c.sendAck(addr, msgID)
	}
	metrics.MessagesReceived.Inc()
	c.queue(Event{
		Kind:     KindMessage,
		Addr:     addr,
		PeerName: sess.peerName,
		MsgID:    msgID,
		Text:     text,
	})
}

// sendAck encrypts the bare message id back to the sender. No ack is sent
// for acks. Must hold c.mu.
func (c *Channel) sendAck(addr *net.UDPAddr, msgID string) {
	sess, ok := c.sessions[addr.String()]
	if !ok {
		return
	}
	var nonce [wire.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return
	}
	ciphertext := sess.aead.Seal(nil, nonce[:], []byte(msgID), nil)
	c.write(wire.EncodeAEAD(wire.TypeAck, c.cid, nonce, ciphertext), addr)
}

func (c *Channel) handleAck(payload []byte, addr *net.UDPAddr) {
	sess, ok := c.sessions[addr.String()]
	if !ok {
		return
	}
	nonce, ciphertext, ok := wire.DecodeAEAD(payload)
	if !ok {
		return
	}
	plaintext, err := sess.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return
	}
	metrics.AcksReceived.Inc()
	c.queue(Event{
		Kind:     KindAck,
		Addr:     addr,
		PeerName: sess.peerName,
		MsgID:    string(plaintext),
	})
}

// handleReconnectReq restores a session from the stored key for a peer
// whose endpoint we recognise. An unknown endpoint gets no reply at all, so
// a stranger cannot distinguish "no stored key" from "nobody home".
func (c *Channel) handleReconnectReq(addr *net.UDPAddr) {
	for k, row := range c.contacts.Contacts() {
		if row.IP != addr.IP.String() || row.Port != addr.Port || row.SessionKey == "" {
			continue
		}
		sk, ok := c.contacts.SessionKey(k)
		if !ok {
			continue
		}
		aead, err := chacha20poly1305.New(sk[:])
		if err != nil {
			continue
		}
		name := row.Name
		if name == "" {
			name = k
		}
		c.sessions[addr.String()] = &session{aead: aead, peerName: name}
		if err := c.contacts.SetConnected(k, true); err != nil {
			c.llog.Error().Err(err).Str("contact", k).Msg("failed to mark contact connected")
		}
		c.write(wire.EncodeEmpty(wire.TypeReconnectResp, c.cid), addr)
		metrics.SessionsActive.Set(float64(len(c.sessions)))
		c.queue(Event{
			Kind:       KindSessionRestored,
			Addr:       addr,
			ContactKey: k,
			PeerName:   name,
			Role:       RoleResponder,
		})
		return
	}
}

// handleReconnectResp consumes the pending marker set by Connect and
// confirms the tentatively-installed session.
func (c *Channel) handleReconnectResp(addr *net.UDPAddr) {
	marker, ok := c.reconnect[addr.String()]
	if !ok {
		return
	}
	delete(c.reconnect, addr.String())

	sess, ok := c.sessions[addr.String()]
	if !ok {
		return
	}
	if err := c.contacts.SetConnected(marker.contactKey, true); err != nil {
		c.llog.Error().Err(err).Str("contact", marker.contactKey).Msg("failed to mark contact connected")
	}
	metrics.SessionsActive.Set(float64(len(c.sessions)))
	c.queue(Event{
		Kind:       KindSessionRestored,
		Addr:       addr,
		ContactKey: marker.contactKey,
		PeerName:   sess.peerName,
		Role:       RoleInitiator,
	})
}

func (c *Channel) handlePendingSend(addr *net.UDPAddr) {
	sess, ok := c.sessions[addr.String()]
	if !ok {
		return
	}
	c.queue(Event{Kind: KindPeerSendingPending, Addr: addr, PeerName: sess.peerName})
}

// handlePendingDone fires SendMyPending at most once per session; the flag
// resets when the session closes.
func (c *Channel) handlePendingDone(addr *net.UDPAddr) {
	sess, ok := c.sessions[addr.String()]
	if !ok {
		return
	}
	if c.pendingSent[addr.String()] {
		return
	}
	c.pendingSent[addr.String()] = true
	c.queue(Event{Kind: KindSendMyPending, Addr: addr, PeerName: sess.peerName})
}

// Send encrypts and transmits one message. It returns false when no
// session is installed or the transport write fails; the caller is
// responsible for demoting the message to pending on false.
func (c *Channel) Send(ip string, port int, text, msgID string) bool {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[addr.String()]
	if !ok {
		return false
	}
	var nonce [wire.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return false
	}
	ciphertext := sess.aead.Seal(nil, nonce[:], wire.EncodeMsgPlaintext(msgID, text), nil)
	if !c.write(wire.EncodeAEAD(wire.TypeMsg, c.cid, nonce, ciphertext), addr) {
		return false
	}
	metrics.MessagesSent.Inc()
	return true
}

// SendPendingSend announces the start of a pending-message flush to addr.
func (c *Channel) SendPendingSend(ip string, port int) {
	c.sendEmpty(wire.TypePendingSend, ip, port)
}

// SendPendingDone announces the end of a pending-message flush to addr.
func (c *Channel) SendPendingDone(ip string, port int) {
	c.sendEmpty(wire.TypePendingDone, ip, port)
}

func (c *Channel) sendEmpty(typ byte, ip string, port int) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write(wire.EncodeEmpty(typ, c.cid), addr)
}

// HasSession reports whether an established session exists for the endpoint.
func (c *Channel) HasSession(ip string, port int) bool {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[addr.String()]
	return ok
}

// CloseSession tears down all per-address state for the endpoint: the
// session, any reconnect marker, and the once-per-session pending flag.
func (c *Channel) CloseSession(ip string, port int) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, addr.String())
	delete(c.reconnect, addr.String())
	delete(c.pendingSent, addr.String())
	metrics.SessionsActive.Set(float64(len(c.sessions)))
}

// reconnectScanner tears down tentative sessions whose ReconnectReq went
// unanswered past the deadline and surfaces the timeout so the caller can
// fall back to a fresh handshake.
func (c *Channel) reconnectScanner(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(reconnectScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		var expired []Event
		now := time.Now()
		for addrKey, marker := range c.reconnect {
			if now.Before(marker.deadline) {
				continue
			}
			delete(c.reconnect, addrKey)
			delete(c.sessions, addrKey)
			udpAddr, _ := net.ResolveUDPAddr("udp", addrKey)
			expired = append(expired, Event{
				Kind:       KindReconnectTimeout,
				Addr:       udpAddr,
				ContactKey: marker.contactKey,
				PeerName:   marker.contactKey,
			})
		}
		if len(expired) > 0 {
			metrics.SessionsActive.Set(float64(len(c.sessions)))
		}
		c.mu.Unlock()

		for _, ev := range expired {
			metrics.ReconnectTimeouts.Inc()
			c.deliver(ev)
		}
	}
}

// write transmits one datagram, reporting success. Transient transport
// errors are the caller's problem per the error-handling contract.
func (c *Channel) write(packet []byte, addr *net.UDPAddr) bool {
	if c.conn == nil {
		return false
	}
	if _, err := c.conn.WriteToUDP(packet, addr); err != nil {
		peerLog := log.WithPeer(addr.String())
		peerLog.Debug().Err(err).Msg("write failed")
		return false
	}
	return true
}

// queue records an event for delivery once c.mu is released. Must hold c.mu.
func (c *Channel) queue(ev Event) {
	c.queued = append(c.queued, ev)
}

// deliver invokes the callback. Must NOT hold c.mu.
func (c *Channel) deliver(ev Event) {
	if c.cb != nil {
		c.cb(ev)
	}
}

func newEphemeralSlot() (*ephemeralSlot, error) {
	slot := &ephemeralSlot{}
	if _, err := rand.Read(slot.priv[:]); err != nil {
		return nil, err
	}
	curve25519.ScalarBaseMult(&slot.pub, &slot.priv)
	return slot, nil
}

// x25519 runs the curve25519 function over raw 32-byte keys.
func x25519(priv, peerPub [32]byte) ([32]byte, error) {
	var shared [32]byte
	out, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return shared, err
	}
	copy(shared[:], out)
	return shared, nil
}
