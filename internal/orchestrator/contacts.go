package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zapdeskhq/zapdesk/internal/provider"
	"github.com/zapdeskhq/zapdesk/internal/push"
	"github.com/zapdeskhq/zapdesk/internal/store"
)

// SetContactStatus updates a contact's conversation status and notifies the
// owner's subscribers.
func (o *Orchestrator) SetContactStatus(ctx context.Context, contactID, statusValue string) (*store.Contact, error) {
	if !store.ValidConversationStatus(statusValue) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, statusValue)
	}
	contact, err := o.db.UpdateContactStatus(contactID, statusValue)
	if err != nil {
		return nil, err
	}

	sess, err := o.db.GetSession(contact.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load contact session: %w", err)
	}
	o.emitter.Emit(sess.OwnerID, push.EventContactStatus, contact)
	return contact, nil
}

// ContactProfilePic fetches a peer's current avatar through the live
// session and caches it on the contact row. A provider-side failure yields
// an empty URL, not an error.
func (o *Orchestrator) ContactProfilePic(ctx context.Context, sessionID, number string) (string, error) {
	entry, _, err := o.liveSession(sessionID)
	if err != nil {
		return "", err
	}

	url, err := entry.Client.ProfilePicURL(ctx, provider.FormatID(number))
	if err != nil {
		o.log.Debug("profile pic lookup failed",
			zap.String("session_id", sessionID),
			zap.String("number", number),
			zap.Error(err))
		return "", nil
	}
	if url != "" {
		if _, err := o.db.UpsertContact(&store.Contact{
			SessionID:     sessionID,
			Number:        provider.BareID(provider.FormatID(number)),
			ProfilePicURL: url,
		}); err != nil {
			o.log.Warn("cache profile pic", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return url, nil
}

// MarkConversationRead marks all unread inbound messages from one peer as
// read and returns how many were updated.
func (o *Orchestrator) MarkConversationRead(ctx context.Context, sessionID, number string) (int64, error) {
	if _, err := o.db.GetSession(sessionID); err != nil {
		return 0, err
	}
	return o.db.MarkConversationRead(sessionID, number)
}

// profileWalk refreshes the avatar of every known contact on a session.
// Per-contact failures are logged and skipped.
func (o *Orchestrator) profileWalk(ctx context.Context, sess *store.Session, client provider.Client) {
	contacts, err := o.db.ListContacts(sess.ID, "")
	if err != nil {
		o.log.Error("profile walk: list contacts", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}

	updated := 0
	for _, c := range contacts {
		if ctx.Err() != nil {
			return
		}
		url, err := client.ProfilePicURL(ctx, provider.FormatID(c.Number))
		if err != nil || url == "" || url == c.ProfilePicURL {
			continue
		}
		if _, err := o.db.UpsertContact(&store.Contact{
			SessionID:     sess.ID,
			Number:        c.Number,
			ProfilePicURL: url,
		}); err != nil {
			o.log.Warn("profile walk: upsert contact",
				zap.String("session_id", sess.ID),
				zap.String("number", c.Number),
				zap.Error(err))
			continue
		}
		updated++
	}
	o.log.Info("profile walk done",
		zap.String("session_id", sess.ID),
		zap.Int("contacts", len(contacts)),
		zap.Int("updated", updated))
}

// startRefresh runs the periodic profile walk for one attached session. The
// loop self-cancels when the session leaves the registry.
func (o *Orchestrator) startRefresh(ctx context.Context, rt *runtime) {
	interval := o.cfg.RefreshInterval()
	if interval <= 0 {
		return
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	rt.setRefresh(cancel)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if _, ok := o.reg.Get(rt.sess.ID); !ok {
					return
				}
				o.profileWalk(refreshCtx, rt.sess, rt.client)
			}
		}
	}()
}
