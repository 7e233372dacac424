// Package store implements the encrypted local contact and message
// database: a two-layer key-wrapping scheme rooted in a hardware signing
// operation, and the contact/message model whose lifecycle the secure
// channel and the store-and-forward coordinator drive.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lanchat/lanchat/pkg/log"
	"github.com/lanchat/lanchat/pkg/metrics"
	"github.com/lanchat/lanchat/pkg/security"
)

// contactFields is the whitelist UpsertContact is allowed to mutate on an
// existing contact; anything else is silently dropped.
var contactFields = map[string]bool{
	"name": true, "ip": true, "port": true, "session_key": true, "peer_cert": true,
}

// Store is the encrypted, single-writer database for one identity.
type Store struct {
	mu sync.Mutex

	challengePath string
	kdbPath       string
	dbPath        string

	kdb [security.DBKeySize]byte
	m   *model

	log zerolog.Logger
}

// Open derives the on-disk paths from SHA-256(serial)[:16], ensures the
// challenge and wrapped database key exist (creating them atomically on
// first run), and loads the decrypted database blob. A decode failure on
// load resets to an empty contact map and logs, rather than silently
// discarding state after a prior successful load.
func Open(dataDir string, serial string, sign security.Signer) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: failed to create data dir: %w", err)
	}

	serialHash := sha256.Sum256([]byte(serial))
	hex16 := hex.EncodeToString(serialHash[:])[:16]

	s := &Store{
		challengePath: filepath.Join(dataDir, "C_value_chat.bin"),
		kdbPath:       filepath.Join(dataDir, fmt.Sprintf("kdb_enc_%s.bin", hex16)),
		dbPath:        filepath.Join(dataDir, fmt.Sprintf("database_%s.json.enc", hex16)),
		log:           log.WithComponent("store"),
	}

	challenge, err := security.EnsureChallenge(s.challengePath)
	if err != nil {
		return nil, err
	}
	wrapKey, err := security.DeriveWrapKey(sign, challenge)
	if err != nil {
		return nil, err
	}
	kdb, err := security.EnsureWrappedDBKey(s.kdbPath, wrapKey)
	if err != nil {
		return nil, err
	}
	s.kdb = kdb

	s.load()
	return s, nil
}

func (s *Store) load() {
	data, err := os.ReadFile(s.dbPath)
	if err != nil {
		s.m = newModel()
		return
	}
	if len(data) == 0 {
		s.m = newModel()
		return
	}

	plain, err := security.DecryptGCM(s.kdb, data)
	if err != nil {
		s.log.Error().Err(err).Msg("store: failed to decrypt database blob, resetting to empty store")
		s.m = newModel()
		return
	}

	var m model
	if err := json.Unmarshal(plain, &m); err != nil {
		s.log.Error().Err(err).Msg("store: failed to decode database blob, resetting to empty store")
		s.m = newModel()
		return
	}
	if m.Contacts == nil {
		m.Contacts = make(map[string]*Contact)
	}
	s.m = &m
	s.collapseDuplicates()
}

// persist re-serialises the whole model and atomically rewrites the blob.
// Every exported mutator calls this on success.
func (s *Store) persist() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StorePersistDuration)

	data, err := json.Marshal(s.m)
	if err != nil {
		return fmt.Errorf("store: failed to marshal model: %w", err)
	}
	ciphertext, err := security.EncryptGCM(s.kdb, data)
	if err != nil {
		return fmt.Errorf("store: failed to encrypt model: %w", err)
	}
	if err := security.WriteFileAtomic(s.dbPath, ciphertext, 0600); err != nil {
		return fmt.Errorf("store: failed to persist database blob: %w", err)
	}
	return nil
}

// Close zeroises the in-memory database key. The store must not be used
// afterwards; any further mutation would encrypt under an all-zero key.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.kdb {
		s.kdb[i] = 0
	}
}

// Contacts returns a snapshot of all contact keys to contacts. Callers
// must not mutate the returned contacts directly.
func (s *Store) Contacts() map[string]*Contact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Contact, len(s.m.Contacts))
	for k, v := range s.m.Contacts {
		out[k] = v
	}
	return out
}

// Contact returns the contact row for key, or nil if unknown.
func (s *Store) Contact(key string) *Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Contacts[key]
}

// PeerCert returns the decoded DER certificate stored for key, if any.
func (s *Store) PeerCert(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m.Contacts[key]
	if c == nil || c.PeerCert == "" {
		return nil
	}
	der, err := hex.DecodeString(c.PeerCert)
	if err != nil {
		return nil
	}
	return der
}

// SessionKey returns the decoded 32-byte session key stored for key, if any.
func (s *Store) SessionKey(key string) ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out [32]byte
	c := s.m.Contacts[key]
	if c == nil || c.SessionKey == "" {
		return out, false
	}
	raw, err := hex.DecodeString(c.SessionKey)
	if err != nil || len(raw) != 32 {
		return out, false
	}
	copy(out[:], raw)
	return out, true
}

// UpsertContact creates a contact with defaults on first sight, or updates
// only the whitelisted fields on an existing one. fields may include any of
// "name", "ip", "port", "session_key" (hex), "peer_cert" (hex); anything
// else is silently dropped.
func (s *Store) UpsertContact(key string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.m.Contacts[key]
	if !exists {
		c = &Contact{Name: key, Messages: []*Message{}}
		s.m.Contacts[key] = c
	}

	for k, v := range fields {
		if !contactFields[k] {
			continue
		}
		switch k {
		case "name":
			if sv, ok := v.(string); ok {
				c.Name = sv
			}
		case "ip":
			if sv, ok := v.(string); ok {
				c.IP = sv
			}
		case "port":
			if iv, ok := v.(int); ok {
				c.Port = iv
			}
		case "session_key":
			if sv, ok := v.(string); ok {
				c.SessionKey = sv
			}
		case "peer_cert":
			if sv, ok := v.(string); ok {
				c.PeerCert = sv
			}
		}
	}

	return s.persist()
}

// SetConnected flips is_connected, writing last_seen when transitioning to
// false.
func (s *Store) SetConnected(key string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m.Contacts[key]
	if c == nil {
		return fmt.Errorf("store: unknown contact %q", key)
	}
	c.IsConnected = connected
	if !connected {
		ts := time.Now().Format(time.RFC3339)
		c.LastSeen = &ts
	}
	return s.persist()
}

// AppendMessage adds a message to key's conversation. If msgID is non-empty
// and already present, the call is idempotent and returns the existing id.
func (s *Store) AppendMessage(key, sender, text, status string, timestamp string, msgID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.m.Contacts[key]
	if !exists {
		c = &Contact{Name: key, Messages: []*Message{}}
		s.m.Contacts[key] = c
	}

	if msgID != "" {
		for _, m := range c.Messages {
			if m.ID == msgID {
				return msgID, nil
			}
		}
	} else {
		msgID = uuid.NewString()
	}

	if timestamp == "" {
		timestamp = time.Now().Format(time.RFC3339)
	}

	msg := &Message{
		ID:        msgID,
		Sender:    sender,
		Text:      text,
		Timestamp: timestamp,
		Status:    status,
		Read:      false,
	}
	if status == StatusSent {
		ts := nowSeconds()
		msg.SentTimestamp = &ts
	}
	c.Messages = append(c.Messages, msg)

	if err := s.persist(); err != nil {
		return "", err
	}
	return msgID, nil
}

// SetMessageStatus enforces the transitions of the message lifecycle:
// sent/delivered/pending clear or (re)stamp sent_timestamp as appropriate.
// It never allows a transition out of delivered.
func (s *Store) SetMessageStatus(key, msgID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m.Contacts[key]
	if c == nil {
		return fmt.Errorf("store: unknown contact %q", key)
	}
	for _, m := range c.Messages {
		if m.ID != msgID {
			continue
		}
		if m.Status == StatusDelivered {
			return nil
		}
		m.Status = status
		switch status {
		case StatusSent:
			ts := nowSeconds()
			m.SentTimestamp = &ts
		case StatusDelivered, StatusPending:
			m.SentTimestamp = nil
		}
		return s.persist()
	}
	return fmt.Errorf("store: unknown message %q for contact %q", msgID, key)
}

// MarkReadAll marks every received message for key as read.
func (s *Store) MarkReadAll(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m.Contacts[key]
	if c == nil {
		return nil
	}
	changed := false
	for _, m := range c.Messages {
		if m.Status == StatusReceived && !m.Read {
			m.Read = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persist()
}

// MarkRead marks a single message as read.
func (s *Store) MarkRead(key, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m.Contacts[key]
	if c == nil {
		return nil
	}
	for _, m := range c.Messages {
		if m.ID == msgID {
			if m.Read {
				return nil
			}
			m.Read = true
			return s.persist()
		}
	}
	return nil
}

// Pending returns every message for key currently in status pending, in
// conversation order.
func (s *Store) Pending(key string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m.Contacts[key]
	if c == nil {
		return nil
	}
	var out []*Message
	for _, m := range c.Messages {
		if m.Status == StatusPending {
			out = append(out, m)
		}
	}
	return out
}

// History returns the full conversation for key, in insertion order.
func (s *Store) History(key string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m.Contacts[key]
	if c == nil {
		return nil
	}
	return append([]*Message(nil), c.Messages...)
}

// UnreadCount returns the number of unread received messages for key.
func (s *Store) UnreadCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m.Contacts[key]
	if c == nil {
		return 0
	}
	n := 0
	for _, m := range c.Messages {
		if m.Status == StatusReceived && !m.Read {
			n++
		}
	}
	return n
}

// CheckTimeouts reverts every message in status sent whose sent_timestamp
// is older than thresholdSeconds back to pending. Returns true iff at
// least one message changed.
func (s *Store) CheckTimeouts(key string, thresholdSeconds float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m.Contacts[key]
	if c == nil {
		return false
	}
	now := nowSeconds()
	changed := false
	for _, m := range c.Messages {
		if m.Status != StatusSent || m.SentTimestamp == nil {
			continue
		}
		if now-*m.SentTimestamp > thresholdSeconds {
			m.Status = StatusPending
			m.SentTimestamp = nil
			changed = true
		}
	}
	if changed {
		if err := s.persist(); err != nil {
			s.log.Error().Err(err).Msg("store: failed to persist after timeout sweep")
		}
	}
	return changed
}

// Stats reports store-level totals for the metrics collector: contact
// count, messages in status pending, and unread received messages.
func (s *Store) Stats() (contacts, pending, unread int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts = len(s.m.Contacts)
	for _, c := range s.m.Contacts {
		for _, m := range c.Messages {
			switch {
			case m.Status == StatusPending:
				pending++
			case m.Status == StatusReceived && !m.Read:
				unread++
			}
		}
	}
	return contacts, pending, unread
}

// collapseDuplicates enforces the duplicate-contact invariant: for any set
// of contacts sharing the same name, only the one with the most messages
// survives, ties broken in favour of an "ip:port"-shaped key.
func (s *Store) collapseDuplicates() {
	byName := make(map[string][]string)
	for key, c := range s.m.Contacts {
		if c.Name == "" {
			continue
		}
		byName[c.Name] = append(byName[c.Name], key)
	}

	removed := false
	for _, keys := range byName {
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)

		best := keys[0]
		maxMsgs := -1
		for _, k := range keys {
			n := len(s.m.Contacts[k].Messages)
			if n > maxMsgs || (n == maxMsgs && looksLikeIPPort(k) && !looksLikeIPPort(best)) {
				maxMsgs = n
				best = k
			}
		}
		if maxMsgs == 0 {
			for _, k := range keys {
				if looksLikeIPPort(k) {
					best = k
					break
				}
			}
		}
		for _, k := range keys {
			if k != best {
				delete(s.m.Contacts, k)
				removed = true
			}
		}
	}

	if removed {
		if err := s.persist(); err != nil {
			s.log.Error().Err(err).Msg("store: failed to persist after duplicate collapse")
		}
	}
}

func looksLikeIPPort(key string) bool {
	for _, r := range key {
		if r == ':' {
			return true
		}
	}
	return false
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
