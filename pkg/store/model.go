package store

// Message statuses, matching the lifecycle of a locally- or
// remotely-originated message as it moves through the store.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusReceived  = "received"
	StatusSystem    = "system"
	StatusError     = "error"
)

// SysSender is the sentinel sender name for synthetic system messages, such
// as the "secure session established" notice the coordinator appends on
// first contact.
const SysSender = "Sys"

// Message is a single entry in a contact's conversation.
type Message struct {
	ID            string   `json:"id"`
	Sender        string   `json:"sender"`
	Text          string   `json:"text"`
	Timestamp     string   `json:"timestamp"`
	Status        string   `json:"status"`
	Read          bool     `json:"read"`
	SentTimestamp *float64 `json:"sent_timestamp"`
}

// Contact is a remote party this node has exchanged sessions or messages
// with, keyed in the store by a contact key (see resolveContactKey).
type Contact struct {
	Name        string     `json:"name"`
	IP          string     `json:"ip"`
	Port        int        `json:"port"`
	IsConnected bool       `json:"is_connected"`
	LastSeen    *string    `json:"last_seen"`
	SessionKey  string     `json:"session_key"`
	PeerCert    string     `json:"peer_cert"`
	Messages    []*Message `json:"msgs"`
}

// model is the whole persisted, encrypted blob.
type model struct {
	Contacts map[string]*Contact `json:"contacts"`
}

func newModel() *model {
	return &model{Contacts: make(map[string]*Contact)}
}
