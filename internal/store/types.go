package store

// Owner is a user-facing account that owns sessions. Resolved by name on
// session creation; the id keys subscriber groups on the push channel.
type Owner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is one messaging-account connection. The id doubles as the
// durable-credential key and embeds the creation epoch
// (<ownerID>_<epochMillis>).
type Session struct {
	ID      string `json:"id"`
	OwnerID string `json:"user_id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	QRCode  string `json:"qr_code,omitempty"`
}

// Contact is a peer (person or group) observed on a session. Natural key is
// (session_id, number); the id is a surrogate so status updates stay
// unambiguous across sessions.
type Contact struct {
	ID                 string `json:"id"`
	SessionID          string `json:"session_id"`
	Name               string `json:"name"`
	Number             string `json:"number"`
	ProfilePicURL      string `json:"profile_pic_url,omitempty"`
	IsGroup            bool   `json:"is_group"`
	ConversationStatus string `json:"conversation_status"`
}

// Message is one persisted message. The id is the provider-assigned message
// identifier and serves as the dedup key across the live, catch-up and
// outbound-echo sources. Timestamp is in seconds, provider clock.
type Message struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`
	Body       string `json:"body"`
	Timestamp  int64  `json:"timestamp"`
	IsRead     bool   `json:"is_read"`
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}

// SelfNumber is the sentinel address for the session owner's own number.
// Exactly one of from_number/to_number equals it on a 1:1 message.
const SelfNumber = "me"
