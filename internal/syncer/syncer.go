// Package syncer performs the catch-up pass that runs when a session comes
// online: it walks the provider's conversations and persists every message
// newer than the session's stored watermark. The pass is idempotent; message
// id uniqueness in the store is the final authority on duplicates, the
// watermark only prunes work.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/provider"
	"github.com/zapdeskhq/zapdesk/internal/push"
	"github.com/zapdeskhq/zapdesk/internal/reconcile"
	"github.com/zapdeskhq/zapdesk/internal/store"
)

// DefaultPageLimit bounds how many recent messages are pulled per chat.
const DefaultPageLimit = 200

// Result summarizes one catch-up pass.
type Result struct {
	Chats    int
	Inserted int
	Skipped  int
	Failed   int
}

type Engine struct {
	db        *store.DB
	media     *media.Store
	emitter   *push.Emitter
	log       *zap.Logger
	pageLimit int
}

func New(db *store.DB, ms *media.Store, emitter *push.Emitter, log *zap.Logger, pageLimit int) *Engine {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	return &Engine{db: db, media: ms, emitter: emitter, log: log.Named("syncer"), pageLimit: pageLimit}
}

// Run executes one catch-up pass for a connected session. A failing chat is
// logged and skipped; the pass keeps going so one broken conversation never
// stalls the rest.
func (e *Engine) Run(ctx context.Context, sess *store.Session, client provider.Client) (*Result, error) {
	watermark, err := e.db.LatestMessageTimestamp(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}

	chats, err := client.Chats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	res := &Result{Chats: len(chats)}
	for _, chat := range chats {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := e.syncChat(ctx, sess, chat, watermark, res); err != nil {
			res.Failed++
			e.log.Warn("chat sync failed",
				zap.String("session_id", sess.ID),
				zap.String("chat_id", chat.ID()),
				zap.Error(err))
		}
	}

	e.log.Info("catch-up pass done",
		zap.String("session_id", sess.ID),
		zap.Int64("watermark", watermark),
		zap.Int("chats", res.Chats),
		zap.Int("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (e *Engine) syncChat(ctx context.Context, sess *store.Session, chat provider.Chat, watermark int64, res *Result) error {
	if _, err := e.db.UpsertContact(&store.Contact{
		SessionID: sess.ID,
		Number:    provider.BareID(chat.ID()),
		Name:      chat.Name(),
		IsGroup:   chat.IsGroup() || provider.IsGroupID(chat.ID()),
	}); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}

	msgs, err := chat.Messages(ctx, e.pageLimit)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}

	for _, msg := range msgs {
		if msg.Timestamp < watermark {
			res.Skipped++
			continue
		}
		if err := e.persist(ctx, sess, chat, msg, res); err != nil {
			res.Failed++
			e.log.Warn("message sync failed",
				zap.String("session_id", sess.ID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, sess *store.Session, chat provider.Chat, msg provider.Message, res *Result) error {
	if msg.ChatID == "" {
		msg.ChatID = chat.ID()
	}
	if !msg.IsGroup {
		msg.IsGroup = chat.IsGroup()
	}
	from, to := reconcile.Addresses(msg)
	body := reconcile.BuildBody(ctx, e.media, msg, e.log)

	record := &store.Message{
		ID:         msg.ID,
		SessionID:  sess.ID,
		FromNumber: from,
		ToNumber:   to,
		Body:       body.Encode(),
		Timestamp:  msg.Timestamp,
		IsRead:     msg.FromMe,
	}
	if err := e.db.InsertMessage(record); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			res.Skipped++
			return nil
		}
		return err
	}

	res.Inserted++
	e.emitter.Emit(sess.OwnerID, push.EventMessage, reconcile.MessagePush{
		SessionID: sess.ID,
		Message:   *record,
	})
	return nil
}
