// Package reconcile turns live provider message events into persisted rows
// and subscriber pushes. Persistence happens before publication, and the
// message id's uniqueness in the store is the final dedup authority across
// the live, echo and catch-up sources.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/provider"
	"github.com/zapdeskhq/zapdesk/internal/push"
	"github.com/zapdeskhq/zapdesk/internal/store"
)

// MessagePush is the payload shape emitted to subscribers for each recorded
// message.
type MessagePush struct {
	SessionID string         `json:"session_id"`
	Message   store.Message  `json:"message"`
	Contact   *store.Contact `json:"contact,omitempty"`
}

type Reconciler struct {
	db      *store.DB
	media   *media.Store
	emitter *push.Emitter
	log     *zap.Logger
}

func New(db *store.DB, ms *media.Store, emitter *push.Emitter, log *zap.Logger) *Reconciler {
	return &Reconciler{db: db, media: ms, emitter: emitter, log: log.Named("reconcile")}
}

// HandleMessage records one live message event for a session. Self-authored
// messages arriving on the inbound path are skipped; the echo path is their
// single source. A duplicate id means the message is already recorded: the
// stored row is re-emitted so subscribers still see it, and no error is
// returned.
func (r *Reconciler) HandleMessage(ctx context.Context, sess *store.Session, client provider.Client, ev provider.MessageEvent) error {
	if !ev.Echo && ev.Msg.FromMe {
		return nil
	}

	msg := ev.Msg
	contact, err := r.upsertPeer(ctx, sess, client, msg)
	if err != nil {
		return fmt.Errorf("upsert peer: %w", err)
	}

	from, to := Addresses(msg)
	body := BuildBody(ctx, r.media, msg, r.log)
	record := &store.Message{
		ID:         msg.ID,
		SessionID:  sess.ID,
		FromNumber: from,
		ToNumber:   to,
		Body:       body.Encode(),
		Timestamp:  msg.Timestamp,
		IsRead:     msg.FromMe,
	}

	if err := r.db.InsertMessage(record); err != nil {
		if !errors.Is(err, store.ErrUniqueViolation) {
			return fmt.Errorf("insert message: %w", err)
		}
		stored, getErr := r.db.GetMessage(msg.ID)
		if getErr != nil {
			return fmt.Errorf("refetch duplicate %s: %w", msg.ID, getErr)
		}
		r.log.Debug("message already recorded",
			zap.String("session_id", sess.ID),
			zap.String("message_id", msg.ID))
		record = stored
	}

	r.emitter.Emit(sess.OwnerID, push.EventMessage, MessagePush{
		SessionID: sess.ID,
		Message:   *record,
		Contact:   contact,
	})
	return nil
}

// upsertPeer records the conversation peer for a message. The peer is the
// group for group chats and the remote party for 1:1 chats.
func (r *Reconciler) upsertPeer(ctx context.Context, sess *store.Session, client provider.Client, msg provider.Message) (*store.Contact, error) {
	peerID := msg.ChatID
	isGroup := msg.IsGroup || provider.IsGroupID(msg.ChatID)

	name := ""
	if client != nil {
		name = client.ContactName(ctx, peerID)
	}
	return r.db.UpsertContact(&store.Contact{
		SessionID: sess.ID,
		Number:    provider.BareID(peerID),
		Name:      name,
		IsGroup:   isGroup,
	})
}

// Addresses maps a provider message to the stored from/to pair. Exactly one
// side of a 1:1 exchange is the self sentinel.
func Addresses(msg provider.Message) (from, to string) {
	isGroup := msg.IsGroup || provider.IsGroupID(msg.ChatID)
	if msg.FromMe {
		return store.SelfNumber, provider.BareID(msg.ChatID)
	}
	if isGroup {
		return provider.BareID(msg.SenderID), provider.BareID(msg.ChatID)
	}
	return provider.BareID(msg.SenderID), store.SelfNumber
}

// BuildBody resolves a message's stored body. Attachments are downloaded and
// written to the media store; a failed download degrades to the text body so
// the message itself is never lost.
func BuildBody(ctx context.Context, ms *media.Store, msg provider.Message, log *zap.Logger) store.Body {
	if !msg.HasMedia || msg.Fetch == nil {
		return store.TextBody(msg.Text)
	}

	data, err := msg.Fetch(ctx)
	if err != nil {
		log.Warn("media download failed, storing text only",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return store.TextBody(msg.Text)
	}

	base := msg.Filename
	if base == "" {
		base = msg.ID
	}
	saved, err := ms.Save(data, msg.MimeType, base)
	if err != nil {
		log.Warn("media save failed, storing text only",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return store.TextBody(msg.Text)
	}

	return store.Body{
		Kind:          "media",
		Text:          msg.Text,
		MediaURL:      saved.PublicURL,
		MediaMime:     msg.MimeType,
		MediaFilename: saved.Filename,
		MediaType:     media.TypeFromMime(msg.MimeType),
	}
}
