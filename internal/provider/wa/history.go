package wa

import (
	"context"
	"sort"
	"sync"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/zapdeskhq/zapdesk/internal/provider"
)

// historyChatCap bounds how many messages are retained per chat. Sized
// above the catch-up page limit so the cache never starves a full page.
const historyChatCap = 512

// historyCache holds the provider-side conversation history the protocol
// streams after pairing. Whatsmeow pushes history; it offers no on-demand
// chat fetch, so this cache is what serves the catch-up pass.
type historyCache struct {
	mu    sync.RWMutex
	chats map[string]*chatHistory
}

type chatHistory struct {
	id      string
	name    string
	isGroup bool
	msgs    map[string]provider.Message
}

func newHistoryCache() *historyCache {
	return &historyCache{chats: make(map[string]*chatHistory)}
}

func (h *historyCache) chat(id string) *chatHistory {
	if ch, ok := h.chats[id]; ok {
		return ch
	}
	ch := &chatHistory{id: id, msgs: make(map[string]provider.Message)}
	h.chats[id] = ch
	return ch
}

func (h *historyCache) add(msg provider.Message) {
	if msg.ChatID == "" || msg.ID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.chat(msg.ChatID)
	if msg.IsGroup {
		ch.isGroup = true
	}
	ch.msgs[msg.ID] = msg
	ch.trim()
}

func (h *historyCache) setMeta(chatID, name string, isGroup bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.chat(chatID)
	if name != "" {
		ch.name = name
	}
	if isGroup {
		ch.isGroup = true
	}
}

func (h *historyCache) chatName(chatID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ch, ok := h.chats[chatID]; ok {
		return ch.name
	}
	return ""
}

// trim evicts the oldest messages past the per-chat cap. Caller holds the
// cache lock.
func (ch *chatHistory) trim() {
	for len(ch.msgs) > historyChatCap {
		oldestID := ""
		oldestTS := int64(0)
		for id, m := range ch.msgs {
			if oldestID == "" || m.Timestamp < oldestTS {
				oldestID, oldestTS = id, m.Timestamp
			}
		}
		delete(ch.msgs, oldestID)
	}
}

func (h *historyCache) snapshot() []provider.Chat {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]provider.Chat, 0, len(h.chats))
	for _, ch := range h.chats {
		msgs := make([]provider.Message, 0, len(ch.msgs))
		for _, m := range ch.msgs {
			msgs = append(msgs, m)
		}
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
		out = append(out, &chatView{id: ch.id, name: ch.name, isGroup: ch.isGroup, msgs: msgs})
	}
	return out
}

// chatView is an immutable snapshot of one cached conversation.
type chatView struct {
	id      string
	name    string
	isGroup bool
	msgs    []provider.Message
}

func (v *chatView) ID() string    { return v.id }
func (v *chatView) Name() string  { return v.name }
func (v *chatView) IsGroup() bool { return v.isGroup }

func (v *chatView) Messages(ctx context.Context, limit int) ([]provider.Message, error) {
	if limit > 0 && len(v.msgs) > limit {
		return v.msgs[len(v.msgs)-limit:], nil
	}
	return v.msgs, nil
}

// Chats returns the cached conversation snapshot.
func (c *Client) Chats(ctx context.Context) ([]provider.Chat, error) {
	return c.history.snapshot(), nil
}

// ingestHistory feeds a protocol history batch into the cache.
func (c *Client) ingestHistory(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	ctx := context.Background()
	total := 0
	for _, conv := range data.GetConversations() {
		chatID := conv.GetID()
		jid, err := types.ParseJID(chatID)
		if err != nil {
			continue
		}
		jid = c.resolveJID(ctx, jid)
		chatID = jid.String()
		isGroup := jid.Server == types.GroupServer
		c.history.setMeta(chatID, conv.GetName(), isGroup)

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			key := wmsg.GetKey()
			payload := wmsg.GetMessage()

			sender := chatID
			if key.GetFromMe() {
				sender = c.SelfNumber() + "@" + types.DefaultUserServer
			} else if p := key.GetParticipant(); p != "" {
				if pj, err := types.ParseJID(p); err == nil {
					sender = c.resolveJID(ctx, pj).String()
				}
			}

			msg := provider.Message{
				ID:        key.GetID(),
				ChatID:    chatID,
				SenderID:  sender,
				Text:      extractText(payload),
				Timestamp: int64(wmsg.GetMessageTimestamp()),
				FromMe:    key.GetFromMe(),
				IsGroup:   isGroup,
			}
			c.attachMedia(&msg, payload)
			c.history.add(msg)
			total++
		}
	}

	if total > 0 {
		c.log.Debug("history batch cached",
			zap.Int("messages", total),
			zap.Int("conversations", len(data.GetConversations())))
	}
}
