// Package provider defines the surface the session engine expects from a
// messaging backend. The concrete implementation lives in provider/wa; the
// engine itself only feeds on these types, which keeps session, sync and
// reconciliation logic testable against fakes.
package provider

import "context"

// Event is a connection-lifecycle or traffic notification emitted by a
// Client. The engine consumes events from a single channel per client.
type Event interface{ isEvent() }

// QREvent carries a fresh pairing code to display to the user.
type QREvent struct {
	Code string
}

// AuthenticatedEvent fires when the account has accepted the pairing but the
// socket is not yet fully usable.
type AuthenticatedEvent struct{}

// ReadyEvent fires when the client is connected and traffic can flow.
type ReadyEvent struct {
	SelfNumber string
}

// DisconnectedEvent fires when the connection drops or the account is
// logged out remotely.
type DisconnectedEvent struct {
	Reason string
}

// MessageEvent carries one inbound or echoed message. Echo is true for
// messages authored on this account (sent from this engine or another
// device on the same account).
type MessageEvent struct {
	Msg  Message
	Echo bool
}

func (QREvent) isEvent()            {}
func (AuthenticatedEvent) isEvent() {}
func (ReadyEvent) isEvent()         {}
func (DisconnectedEvent) isEvent()  {}
func (MessageEvent) isEvent()       {}

// MediaFetcher downloads a message attachment on demand.
type MediaFetcher func(ctx context.Context) ([]byte, error)

// Message is a provider message in engine terms. Timestamp is seconds,
// provider clock. IDs are provider-format (user@server or group ids).
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Text      string
	Timestamp int64
	FromMe    bool
	IsGroup   bool

	HasMedia bool
	MimeType string
	Filename string
	// Fetch is non-nil when HasMedia is true.
	Fetch MediaFetcher
}

// Chat is one conversation known to the provider, used by the catch-up sync
// pass.
type Chat interface {
	ID() string
	Name() string
	IsGroup() bool
	// Messages returns up to limit recent messages, oldest first.
	Messages(ctx context.Context, limit int) ([]Message, error)
}

// ContactInfo is the provider's view of a peer.
type ContactInfo struct {
	ID      string
	Name    string
	IsGroup bool
}

// Media is an outbound attachment.
type Media struct {
	Data     []byte
	MimeType string
	Filename string
	Caption  string
}

// SendResult identifies a message accepted by the provider.
type SendResult struct {
	ID        string
	Timestamp int64
}

// Client is one live connection to a messaging account.
type Client interface {
	// Connect starts the connection. Pairing and lifecycle progress
	// arrive on Events.
	Connect(ctx context.Context) error
	// Disconnect closes the socket but keeps credentials.
	Disconnect()
	// Logout invalidates the account pairing and closes the socket.
	Logout(ctx context.Context) error

	// Events returns the client's event stream. The channel closes when
	// the client is torn down.
	Events() <-chan Event

	// SelfNumber is the bare number of the logged-in account, empty
	// before ready.
	SelfNumber() string

	// Chats lists conversations for the catch-up pass.
	Chats(ctx context.Context) ([]Chat, error)

	SendText(ctx context.Context, to string, text string) (*SendResult, error)
	SendMedia(ctx context.Context, to string, m Media) (*SendResult, error)

	// ContactName resolves a display name for a peer, best effort.
	ContactName(ctx context.Context, id string) string
	// ProfilePicURL returns the peer's avatar URL, empty when none or
	// not visible.
	ProfilePicURL(ctx context.Context, id string) (string, error)
}

// Factory mints clients bound to a session's credential store.
type Factory interface {
	NewClient(ctx context.Context, sessionID string) (Client, error)
	// DeleteCredentials removes a session's durable pairing state.
	DeleteCredentials(sessionID string) error
}
