package store

import (
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/lanchat/lanchat/pkg/security"
)

func fakeSigner() security.Signer {
	return func(data []byte) ([]byte, error) {
		sum := sha256.Sum256(append([]byte("test-signature:"), data...))
		return sum[:], nil
	}
}

func openTestStore(t *testing.T, dir, serial string) *Store {
	t.Helper()
	s, err := Open(dir, serial, fakeSigner())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestOpen_CreatesEmptyStore(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	if len(s.Contacts()) != 0 {
		t.Errorf("fresh store should have no contacts, got %d", len(s.Contacts()))
	}
}

func TestOpen_PersistsAcrossReopens(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	if err := s.UpsertContact("alice", map[string]any{"name": "alice", "ip": "10.0.0.1", "port": 9000}); err != nil {
		t.Fatalf("UpsertContact() error = %v", err)
	}

	s2 := openTestStore(t, dir, "12345")
	c := s2.Contact("alice")
	if c == nil {
		t.Fatal("expected contact alice to survive reopen")
	}
	if c.IP != "10.0.0.1" || c.Port != 9000 {
		t.Errorf("reloaded contact = %+v, want ip 10.0.0.1 port 9000", c)
	}
}

func TestOpen_DifferentSerialsGetDifferentFiles(t *testing.T) {
	dir := t.TempDir()
	s1 := openTestStore(t, dir, "111")
	s2 := openTestStore(t, dir, "222")

	if s1.dbPath == s2.dbPath {
		t.Error("different serials should derive different database paths")
	}
	if filepath.Dir(s1.dbPath) != filepath.Dir(s2.dbPath) {
		t.Error("both stores should still share the same data directory")
	}
}

func TestUpsertContact_WhitelistsFields(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	if err := s.UpsertContact("bob", map[string]any{
		"name":         "bob",
		"ip":           "10.0.0.2",
		"port":         9001,
		"is_connected": true, // not whitelisted, must be dropped
	}); err != nil {
		t.Fatalf("UpsertContact() error = %v", err)
	}

	c := s.Contact("bob")
	if c.IsConnected {
		t.Error("is_connected should not be settable via UpsertContact")
	}
}

func TestSetConnected(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")
	_ = s.UpsertContact("bob", map[string]any{"name": "bob"})

	if err := s.SetConnected("bob", true); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}
	if !s.Contact("bob").IsConnected {
		t.Error("expected is_connected = true")
	}

	if err := s.SetConnected("bob", false); err != nil {
		t.Fatalf("SetConnected() error = %v", err)
	}
	c := s.Contact("bob")
	if c.IsConnected {
		t.Error("expected is_connected = false")
	}
	if c.LastSeen == nil {
		t.Error("expected last_seen to be set when disconnecting")
	}
}

func TestAppendMessage_Idempotent(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	id1, err := s.AppendMessage("bob", "bob", "hello", StatusReceived, "", "fixed-id")
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	id2, err := s.AppendMessage("bob", "bob", "hello", StatusReceived, "", "fixed-id")
	if err != nil {
		t.Fatalf("AppendMessage() second call error = %v", err)
	}

	if id1 != id2 {
		t.Errorf("AppendMessage() should be idempotent, got %q then %q", id1, id2)
	}
	if len(s.History("bob")) != 1 {
		t.Errorf("history should grow by exactly one, got %d", len(s.History("bob")))
	}
}

func TestAppendMessage_GeneratesUUID(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	id, err := s.AppendMessage("bob", "bob", "hi", StatusReceived, "", "")
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if id == "" {
		t.Error("expected a generated message id")
	}
}

func TestSetMessageStatus_Monotonicity(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	id, err := s.AppendMessage("bob", "me", "hi", StatusSent, "", "")
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	if err := s.SetMessageStatus("bob", id, StatusDelivered); err != nil {
		t.Fatalf("SetMessageStatus() error = %v", err)
	}

	// delivered -> pending must be rejected (a no-op, not an error)
	if err := s.SetMessageStatus("bob", id, StatusPending); err != nil {
		t.Fatalf("SetMessageStatus() error = %v", err)
	}

	msgs := s.History("bob")
	if msgs[0].Status != StatusDelivered {
		t.Errorf("status = %q, want delivered to be sticky", msgs[0].Status)
	}
}

func TestSetMessageStatus_SentClearsAndStampsTimestamp(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	id, err := s.AppendMessage("bob", "me", "hi", StatusPending, "", "")
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	if err := s.SetMessageStatus("bob", id, StatusSent); err != nil {
		t.Fatalf("SetMessageStatus() error = %v", err)
	}
	if s.History("bob")[0].SentTimestamp == nil {
		t.Error("expected sent_timestamp to be set on transition to sent")
	}

	if err := s.SetMessageStatus("bob", id, StatusDelivered); err != nil {
		t.Fatalf("SetMessageStatus() error = %v", err)
	}
	if s.History("bob")[0].SentTimestamp != nil {
		t.Error("expected sent_timestamp to be cleared on transition to delivered")
	}
}

func TestCheckTimeouts(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	id, err := s.AppendMessage("bob", "me", "hi", StatusSent, "", "")
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	// still fresh: should not revert yet
	if s.CheckTimeouts("bob", 10000) {
		t.Error("CheckTimeouts() should not fire before the threshold elapses")
	}

	// force an ancient sent_timestamp
	c := s.Contact("bob")
	for _, m := range c.Messages {
		if m.ID == id {
			old := 0.0
			m.SentTimestamp = &old
		}
	}

	if !s.CheckTimeouts("bob", 0.001) {
		t.Error("CheckTimeouts() should revert a message whose sent_timestamp is older than the threshold")
	}
	if s.History("bob")[0].Status != StatusPending {
		t.Errorf("status = %q, want pending after timeout", s.History("bob")[0].Status)
	}
}

func TestPendingAndUnreadCount(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	_, _ = s.AppendMessage("bob", "me", "one", StatusPending, "", "")
	_, _ = s.AppendMessage("bob", "me", "two", StatusSent, "", "")
	_, _ = s.AppendMessage("bob", "bob", "three", StatusReceived, "", "")

	if len(s.Pending("bob")) != 1 {
		t.Errorf("Pending() = %d messages, want 1", len(s.Pending("bob")))
	}
	if s.UnreadCount("bob") != 1 {
		t.Errorf("UnreadCount() = %d, want 1", s.UnreadCount("bob"))
	}

	if err := s.MarkReadAll("bob"); err != nil {
		t.Fatalf("MarkReadAll() error = %v", err)
	}
	if s.UnreadCount("bob") != 0 {
		t.Error("UnreadCount() should be zero after MarkReadAll")
	}
}

func TestDuplicateContactCollapse(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	_ = s.UpsertContact("alice", map[string]any{"name": "alice"})
	_ = s.UpsertContact("10.0.0.5:9000", map[string]any{"name": "alice"})
	_, _ = s.AppendMessage("10.0.0.5:9000", "alice", "hi", StatusReceived, "", "")

	// reopen to trigger collapseDuplicates on load
	s2 := openTestStore(t, dir, "12345")

	count := 0
	for _, c := range s2.Contacts() {
		if c.Name == "alice" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one surviving contact named alice, got %d", count)
	}
	if s2.Contact("10.0.0.5:9000") == nil {
		t.Error("expected the contact with more messages (ip:port key) to survive")
	}
}

func TestSessionKeyAndPeerCertRoundtrip(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "12345")

	sessionKeyHex := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	certHex := "deadbeef"

	if err := s.UpsertContact("bob", map[string]any{
		"name":        "bob",
		"session_key": sessionKeyHex,
		"peer_cert":   certHex,
	}); err != nil {
		t.Fatalf("UpsertContact() error = %v", err)
	}

	key, ok := s.SessionKey("bob")
	if !ok {
		t.Fatal("expected a session key to be present")
	}
	if len(key) != 32 {
		t.Errorf("SessionKey() length = %d, want 32", len(key))
	}

	cert := s.PeerCert("bob")
	if string(cert) != "\xde\xad\xbe\xef" {
		t.Errorf("PeerCert() = %x, want deadbeef", cert)
	}
}
