package wa

import (
	"context"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/zapdeskhq/zapdesk/internal/provider"
)

// Client drives one whatsmeow connection and translates its events into the
// provider contract.
type Client struct {
	sessionID string
	wm        *whatsmeow.Client
	container *sqlstore.Container
	log       *zap.Logger

	events  chan provider.Event
	history *historyCache

	mu     sync.Mutex
	closed bool
}

func newClient(sessionID string, container *sqlstore.Container, device *wastore.Device, log *zap.Logger) *Client {
	c := &Client{
		sessionID: sessionID,
		wm:        whatsmeow.NewClient(device, nil),
		container: container,
		log:       log,
		events:    make(chan provider.Event, 256),
		history:   newHistoryCache(),
	}
	c.wm.AddEventHandler(c.handle)
	return c
}

// Connect starts the connection. For an unpaired device the QR flow runs
// first and pairing progress is emitted as events; a paired device connects
// directly on its stored credentials.
func (c *Client) Connect(ctx context.Context) error {
	if c.wm.Store.ID != nil {
		c.emit(provider.AuthenticatedEvent{})
		if err := c.wm.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		return nil
	}

	// GetQRChannel must precede Connect.
	qrChan, err := c.wm.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get qr channel: %w", err)
	}
	if err := c.wm.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	go c.pumpQR(qrChan)
	return nil
}

func (c *Client) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.emit(provider.QREvent{Code: item.Code})
		case "success":
			c.emit(provider.AuthenticatedEvent{})
			return
		case "timeout":
			c.emit(provider.DisconnectedEvent{Reason: "pairing timeout"})
			return
		default:
			if item.Error != nil {
				c.emit(provider.DisconnectedEvent{Reason: item.Error.Error()})
				return
			}
		}
	}
}

func (c *Client) Disconnect() {
	c.wm.Disconnect()
	c.close()
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.wm.Logout(ctx)
	c.close()
	return err
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
	_ = c.container.Close()
}

func (c *Client) Events() <-chan provider.Event { return c.events }

func (c *Client) SelfNumber() string {
	if c.wm.Store.ID == nil {
		return ""
	}
	return c.wm.Store.ID.User
}

// handle translates whatsmeow events into provider events. Traffic seen
// before ready also feeds the history cache that serves the catch-up pass.
func (c *Client) handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		c.emit(provider.ReadyEvent{SelfNumber: c.SelfNumber()})

	case *events.Disconnected:
		c.emit(provider.DisconnectedEvent{Reason: "connection lost"})

	case *events.LoggedOut:
		c.emit(provider.DisconnectedEvent{Reason: "logged out: " + evt.Reason.String()})

	case *events.StreamReplaced:
		c.emit(provider.DisconnectedEvent{Reason: "stream replaced"})

	case *events.Message:
		msg := c.parseLive(evt)
		c.history.add(msg)
		c.emit(provider.MessageEvent{Msg: msg, Echo: evt.Info.IsFromMe})

	case *events.HistorySync:
		c.ingestHistory(evt)
	}
}

func (c *Client) emit(ev provider.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event buffer full, dropping", zap.String("event", fmt.Sprintf("%T", ev)))
	}
}

func (c *Client) SendText(ctx context.Context, to string, text string) (*provider.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return nil, fmt.Errorf("parse jid: %w", err)
	}
	resp, err := c.wm.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &provider.SendResult{ID: resp.ID, Timestamp: resp.Timestamp.Unix()}, nil
}

func (c *Client) SendMedia(ctx context.Context, to string, m provider.Media) (*provider.SendResult, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return nil, fmt.Errorf("parse jid: %w", err)
	}

	msg, err := c.buildMediaMessage(ctx, m)
	if err != nil {
		return nil, err
	}
	resp, err := c.wm.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, fmt.Errorf("send media: %w", err)
	}
	return &provider.SendResult{ID: resp.ID, Timestamp: resp.Timestamp.Unix()}, nil
}

func (c *Client) ContactName(ctx context.Context, id string) string {
	jid, err := types.ParseJID(id)
	if err != nil {
		return ""
	}
	if jid.Server == types.GroupServer {
		if name := c.history.chatName(jid.String()); name != "" {
			return name
		}
		info, err := c.wm.GetGroupInfo(ctx, jid)
		if err != nil {
			return ""
		}
		return info.Name
	}

	info, err := c.wm.Store.Contacts.GetContact(ctx, jid.ToNonAD())
	if err != nil || !info.Found {
		return c.history.chatName(jid.ToNonAD().String())
	}
	if info.FullName != "" {
		return info.FullName
	}
	return info.PushName
}

func (c *Client) ProfilePicURL(ctx context.Context, id string) (string, error) {
	jid, err := types.ParseJID(id)
	if err != nil {
		return "", fmt.Errorf("parse jid: %w", err)
	}
	info, err := c.wm.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{Preview: true})
	if err != nil {
		return "", fmt.Errorf("profile picture: %w", err)
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

// resolveJID maps a LID-addressed jid back to its phone number when the
// device store knows the mapping.
func (c *Client) resolveJID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if c.wm.Store == nil || c.wm.Store.LIDs == nil {
		return jid
	}
	pn, err := c.wm.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
