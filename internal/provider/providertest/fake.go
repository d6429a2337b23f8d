// Package providertest provides in-memory fakes of the provider surface for
// engine tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/zapdeskhq/zapdesk/internal/provider"
)

// Chat is a configurable fake conversation.
type Chat struct {
	ChatID   string
	ChatName string
	Group    bool
	Msgs     []provider.Message
	// MsgsErr, when set, fails Messages.
	MsgsErr error
}

func (c *Chat) ID() string    { return c.ChatID }
func (c *Chat) Name() string  { return c.ChatName }
func (c *Chat) IsGroup() bool { return c.Group }

func (c *Chat) Messages(ctx context.Context, limit int) ([]provider.Message, error) {
	if c.MsgsErr != nil {
		return nil, c.MsgsErr
	}
	if limit > 0 && len(c.Msgs) > limit {
		return c.Msgs[len(c.Msgs)-limit:], nil
	}
	return c.Msgs, nil
}

// Client is a scriptable fake provider client.
type Client struct {
	mu sync.Mutex

	Self      string
	ChatList  []provider.Chat
	ChatsErr  error
	Names     map[string]string
	Pics      map[string]string
	PicErr    error
	SendErr   error
	ConnErr   error
	LogoutErr error

	events chan provider.Event

	Connected    bool
	Disconnected bool
	LoggedOut    bool
	SentTexts    []SentText
	SentMedia    []SentMedia

	sendSeq int
}

// SentText records one SendText call.
type SentText struct {
	To   string
	Text string
}

// SentMedia records one SendMedia call.
type SentMedia struct {
	To    string
	Media provider.Media
}

func NewClient() *Client {
	return &Client{
		Self:   "5511000000000",
		Names:  make(map[string]string),
		Pics:   make(map[string]string),
		events: make(chan provider.Event, 32),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnErr != nil {
		return c.ConnErr
	}
	c.Connected = true
	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Disconnected = true
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LogoutErr != nil {
		return c.LogoutErr
	}
	c.LoggedOut = true
	return nil
}

func (c *Client) Events() <-chan provider.Event { return c.events }

// Emit pushes an event to the client's stream.
func (c *Client) Emit(ev provider.Event) { c.events <- ev }

// CloseEvents ends the event stream.
func (c *Client) CloseEvents() { close(c.events) }

func (c *Client) SelfNumber() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Self
}

func (c *Client) Chats(ctx context.Context) ([]provider.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChatsErr != nil {
		return nil, c.ChatsErr
	}
	return c.ChatList, nil
}

func (c *Client) SendText(ctx context.Context, to, text string) (*provider.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	c.SentTexts = append(c.SentTexts, SentText{To: to, Text: text})
	c.sendSeq++
	return &provider.SendResult{ID: fmt.Sprintf("sent-%d", c.sendSeq), Timestamp: int64(1000 + c.sendSeq)}, nil
}

func (c *Client) SendMedia(ctx context.Context, to string, m provider.Media) (*provider.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	c.SentMedia = append(c.SentMedia, SentMedia{To: to, Media: m})
	c.sendSeq++
	return &provider.SendResult{ID: fmt.Sprintf("sent-%d", c.sendSeq), Timestamp: int64(1000 + c.sendSeq)}, nil
}

func (c *Client) ContactName(ctx context.Context, id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Names[id]
}

func (c *Client) ProfilePicURL(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PicErr != nil {
		return "", c.PicErr
	}
	return c.Pics[id], nil
}

// Factory mints pre-registered fake clients.
type Factory struct {
	mu sync.Mutex

	Clients map[string]*Client
	NewErr  error

	DeleteErr error
	Deleted   []string
}

func NewFactory() *Factory {
	return &Factory{Clients: make(map[string]*Client)}
}

func (f *Factory) NewClient(ctx context.Context, sessionID string) (provider.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c, ok := f.Clients[sessionID]
	if !ok {
		c = NewClient()
		f.Clients[sessionID] = c
	}
	return c, nil
}

// Client returns the fake minted for a session, if any.
func (f *Factory) Client(sessionID string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Clients[sessionID]
}

func (f *Factory) DeleteCredentials(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.Deleted = append(f.Deleted, sessionID)
	return nil
}
