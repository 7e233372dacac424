// Package coordinator implements store-and-forward on top of the secure
// channel's events: when a session comes up with a peer, locally-queued
// messages are flushed in order, the peer's symmetric flush is awaited, and
// messages that never get acknowledged are demoted back to the queue.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanchat/lanchat/pkg/channel"
	"github.com/lanchat/lanchat/pkg/log"
	"github.com/lanchat/lanchat/pkg/metrics"
	"github.com/lanchat/lanchat/pkg/store"
)

const (
	// DefaultAckTimeout is how long a sent message waits for its ack before
	// being demoted to pending and the session declared dead.
	DefaultAckTimeout = 500 * time.Millisecond

	// ackScanInterval is how often the ack-timeout scanner runs.
	ackScanInterval = 500 * time.Millisecond

	// flushPause is the pause between consecutive messages during a
	// pending flush, so ack processing and the UI stay responsive and
	// burst loss is reduced.
	flushPause = 200 * time.Millisecond

	// connectPause spaces out the handshakes ConnectAll fires at startup.
	connectPause = 100 * time.Millisecond
)

// sysSessionEstablished is the system notice appended the first time a
// secure session comes up with a brand-new contact.
const sysSessionEstablished = "secure session established"

// Transport is the slice of the secure channel the coordinator drives.
type Transport interface {
	Connect(ip string, port int, contactKey string) bool
	ConnectFresh(ip string, port int)
	Send(ip string, port int, text, msgID string) bool
	SendPendingSend(ip string, port int)
	SendPendingDone(ip string, port int)
	HasSession(ip string, port int) bool
	CloseSession(ip string, port int)
}

// MessageStore is the slice of the encrypted store the coordinator uses.
type MessageStore interface {
	Contacts() map[string]*store.Contact
	Contact(key string) *store.Contact
	UpsertContact(key string, fields map[string]any) error
	SetConnected(key string, connected bool) error
	AppendMessage(key, sender, text, status, timestamp, msgID string) (string, error)
	SetMessageStatus(key, msgID, status string) error
	Pending(key string) []*store.Message
	History(key string) []*store.Message
	CheckTimeouts(key string, thresholdSeconds float64) bool
}

// Config holds coordinator tuning.
type Config struct {
	// AckTimeout overrides DefaultAckTimeout when non-zero.
	AckTimeout time.Duration
	// Notify, when set, receives every event the coordinator has finished
	// processing, plus the synthetic SessionLost events it originates. The
	// UI hangs off this.
	Notify channel.Callback
}

// Coordinator owns the store-and-forward logic for one node.
type Coordinator struct {
	nick string
	ch   Transport
	st   MessageStore
	cfg  Config

	mu          sync.Mutex
	flushing    map[string]bool // contact keys mid-flush
	pendingSent map[string]bool // "ip:port" endpoints already flushed this session

	cancel context.CancelFunc
	wg     sync.WaitGroup

	llog zerolog.Logger
}

// New creates a coordinator for the local user nick.
func New(nick string, ch Transport, st MessageStore, cfg Config) *Coordinator {
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	return &Coordinator{
		nick:        nick,
		ch:          ch,
		st:          st,
		cfg:         cfg,
		flushing:    make(map[string]bool),
		pendingSent: make(map[string]bool),
		llog:        log.WithComponent("coordinator"),
	}
}

// Start launches the ack-timeout scanner. Stop by cancelling ctx or
// calling Stop.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.ackScanner(ctx)
}

// Stop cancels the background scanner and waits for it to exit.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// HandleEvent is wired as the channel's callback; every semantic event the
// channel produces flows through here.
func (c *Coordinator) HandleEvent(ev channel.Event) {
	if ev.Kind == channel.KindSessionsReady {
		c.notify(ev)
		return
	}
	if ev.Addr == nil {
		return
	}

	ip := ev.Addr.IP.String()
	port := ev.Addr.Port
	endpoint := fmt.Sprintf("%s:%d", ip, port)

	contactKey := c.resolveContactKey(ev, ip, port)
	ev.ContactKey = contactKey

	// Keep the endpoint current on every event; the whitelist in the
	// store drops anything else.
	fields := map[string]any{"ip": ip, "port": port}
	if c.st.Contact(contactKey) == nil {
		fields["name"] = ev.PeerName
	}
	if err := c.st.UpsertContact(contactKey, fields); err != nil {
		c.llog.Error().Err(err).Str("contact", contactKey).Msg("failed to update contact endpoint")
	}

	switch ev.Kind {
	case channel.KindHandshakeOK:
		c.setConnected(contactKey, true)
		c.appendFirstContactNotice(contactKey)
		if ev.Role == channel.RoleInitiator {
			c.markFlushed(endpoint)
			c.flush(contactKey, ip, port)
		} else {
			c.clearFlushed(endpoint)
		}

	case channel.KindSessionRestored:
		c.setConnected(contactKey, true)
		if ev.Role == channel.RoleInitiator {
			c.markFlushed(endpoint)
			c.flush(contactKey, ip, port)
		} else {
			// Wait for the initiator's flush to finish first.
			c.clearFlushed(endpoint)
		}

	case channel.KindSendMyPending:
		c.mu.Lock()
		done := c.pendingSent[endpoint]
		if !done {
			c.pendingSent[endpoint] = true
		}
		c.mu.Unlock()
		if !done {
			c.flush(contactKey, ip, port)
		}

	case channel.KindPeerSendingPending:
		// Informational; the peer's messages arrive as ordinary Msg events.

	case channel.KindReconnectTimeout:
		c.setConnected(contactKey, false)
		// The stored key went unanswered; a fresh handshake is the only
		// way forward.
		c.ch.ConnectFresh(ip, port)

	case channel.KindAck:
		if err := c.st.SetMessageStatus(contactKey, ev.MsgID, store.StatusDelivered); err != nil {
			c.llog.Debug().Err(err).Str("msg_id", ev.MsgID).Msg("ack for unknown message")
		}

	case channel.KindMessage:
		c.setConnected(contactKey, true)
		if _, err := c.st.AppendMessage(contactKey, ev.PeerName, ev.Text, store.StatusReceived, clockStamp(), ev.MsgID); err != nil {
			c.llog.Error().Err(err).Str("contact", contactKey).Msg("failed to store received message")
		}
	}

	c.notify(ev)
}

// resolveContactKey finds the store row for an event: by endpoint first,
// then by display name, then falling back to the name itself as a fresh key.
func (c *Coordinator) resolveContactKey(ev channel.Event, ip string, port int) string {
	if ev.ContactKey != "" {
		return ev.ContactKey
	}
	contacts := c.st.Contacts()
	for key, row := range contacts {
		if row.IP == ip && row.Port == port {
			return key
		}
	}
	for key, row := range contacts {
		if row.Name == ev.PeerName {
			return key
		}
	}
	return ev.PeerName
}

// SendText is the user-send path: with a live session the message goes out
// immediately in status sent; without one it queues as pending and a
// connection attempt starts.
func (c *Coordinator) SendText(contactKey, text string) error {
	row := c.st.Contact(contactKey)
	if row == nil {
		return fmt.Errorf("coordinator: unknown contact %q", contactKey)
	}
	if row.IP == "" {
		if text != "" {
			_, _ = c.st.AppendMessage(contactKey, store.SysSender, "user offline, no known address", store.StatusError, clockStamp(), "")
		}
		return nil
	}

	if !c.ch.HasSession(row.IP, row.Port) {
		if text != "" {
			if _, err := c.st.AppendMessage(contactKey, c.nick, text, store.StatusPending, clockStamp(), ""); err != nil {
				return err
			}
		}
		c.ch.Connect(row.IP, row.Port, contactKey)
		return nil
	}

	if text == "" {
		return nil
	}
	msgID, err := c.st.AppendMessage(contactKey, c.nick, text, store.StatusSent, clockStamp(), "")
	if err != nil {
		return err
	}
	if !c.ch.Send(row.IP, row.Port, text, msgID) {
		// Demote and tear down; the next session-established event
		// retries via the pending flush.
		_ = c.st.SetMessageStatus(contactKey, msgID, store.StatusPending)
		c.setConnected(contactKey, false)
		c.ch.CloseSession(row.IP, row.Port)
	}
	return nil
}

// Disconnect tears the session down deliberately, leaving a system notice
// in the conversation.
func (c *Coordinator) Disconnect(contactKey string) {
	row := c.st.Contact(contactKey)
	if row == nil || row.IP == "" {
		return
	}
	c.ch.CloseSession(row.IP, row.Port)
	c.setConnected(contactKey, false)
	_, _ = c.st.AppendMessage(contactKey, store.SysSender, "disconnected", store.StatusSystem, clockStamp(), "")
}

// ConnectAll attempts a session with every known contact, spacing the
// handshakes out. Called once at startup after the channel is ready.
func (c *Coordinator) ConnectAll(ctx context.Context) {
	for key, row := range c.st.Contacts() {
		if row.IP == "" || row.Port == 0 {
			continue
		}
		c.ch.Connect(row.IP, row.Port, key)
		select {
		case <-ctx.Done():
			return
		case <-time.After(connectPause):
		}
	}
}

// flush drains the contact's pending queue over the wire, bracketing the
// run with PendingSend/PendingDone so the peer knows when to start its own
// flush. The per-contact flushing flag prevents re-entry; the bracket
// packets go out even when there is nothing to send, because the peer is
// waiting on PendingDone either way.
func (c *Coordinator) flush(contactKey, ip string, port int) {
	c.ch.SendPendingSend(ip, port)

	pending := c.st.Pending(contactKey)

	c.mu.Lock()
	if len(pending) == 0 || c.flushing[contactKey] {
		c.mu.Unlock()
		c.ch.SendPendingDone(ip, port)
		return
	}
	if !c.ch.HasSession(ip, port) {
		c.mu.Unlock()
		return
	}
	c.flushing[contactKey] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		flog := log.WithContact(contactKey)
		flog.Debug().Int("count", len(pending)).Msg("flushing queued messages")
		for _, m := range pending {
			c.ch.Send(ip, port, m.Text, m.ID)
			if err := c.st.SetMessageStatus(contactKey, m.ID, store.StatusSent); err != nil {
				flog.Error().Err(err).Str("msg_id", m.ID).Msg("failed to mark message sent")
			}
			// Cooperative pause: lets acks for earlier messages process
			// while later ones are still going out.
			time.Sleep(flushPause)
		}

		c.mu.Lock()
		delete(c.flushing, contactKey)
		c.mu.Unlock()

		c.ch.SendPendingDone(ip, port)
		metrics.PendingFlushes.Inc()
	}()
}

// ackScanner demotes sent-but-unacked messages back to pending and tears
// the session down, on the theory that a peer not acking within the
// timeout is gone. Contacts mid-flush are skipped so the flush pacing
// itself doesn't trip the timeout.
func (c *Coordinator) ackScanner(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(ackScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for key, row := range c.st.Contacts() {
			c.mu.Lock()
			busy := c.flushing[key]
			c.mu.Unlock()
			if busy || !row.IsConnected {
				continue
			}

			if !c.st.CheckTimeouts(key, c.cfg.AckTimeout.Seconds()) {
				continue
			}

			metrics.MessagesDemoted.Inc()
			c.setConnected(key, false)
			if row.IP != "" {
				c.ch.CloseSession(row.IP, row.Port)
			}
			// Anything still stuck in sent rides back to pending too.
			for _, m := range c.st.History(key) {
				if m.Status == store.StatusSent {
					_ = c.st.SetMessageStatus(key, m.ID, store.StatusPending)
				}
			}

			c.notify(channel.Event{
				Kind:       channel.KindSessionLost,
				ContactKey: key,
				PeerName:   row.Name,
			})
		}
	}
}

// appendFirstContactNotice drops a one-time system message into a brand-new
// conversation.
func (c *Coordinator) appendFirstContactNotice(contactKey string) {
	if len(c.st.History(contactKey)) > 0 {
		return
	}
	_, _ = c.st.AppendMessage(contactKey, store.SysSender, sysSessionEstablished, store.StatusSystem, clockStamp(), "")
}

func (c *Coordinator) setConnected(contactKey string, connected bool) {
	if err := c.st.SetConnected(contactKey, connected); err != nil {
		c.llog.Debug().Err(err).Str("contact", contactKey).Msg("failed to flip connected state")
	}
}

func (c *Coordinator) markFlushed(endpoint string) {
	c.mu.Lock()
	c.pendingSent[endpoint] = true
	c.mu.Unlock()
}

func (c *Coordinator) clearFlushed(endpoint string) {
	c.mu.Lock()
	c.pendingSent[endpoint] = false
	c.mu.Unlock()
}

func (c *Coordinator) notify(ev channel.Event) {
	if c.cfg.Notify != nil {
		c.cfg.Notify(ev)
	}
}

// clockStamp is the short conversation timestamp format.
func clockStamp() string {
	return time.Now().Format("15:04")
}
