// Package orchestrator is the session engine's public entry point. It mints
// sessions, attaches provider clients, drives the per-session lifecycle
// state machine, and routes traffic through the reconciler, the catch-up
// syncer and the subscriber push channel. Every status transition persists
// before it is published.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/provider"
	"github.com/zapdeskhq/zapdesk/internal/push"
	"github.com/zapdeskhq/zapdesk/internal/reconcile"
	"github.com/zapdeskhq/zapdesk/internal/registry"
	"github.com/zapdeskhq/zapdesk/internal/status"
	"github.com/zapdeskhq/zapdesk/internal/store"
	"github.com/zapdeskhq/zapdesk/internal/syncer"
)

// runtime is the in-process state of one attached adapter, from Connect
// until teardown. The registry only sees it once the account authenticates.
type runtime struct {
	sess    *store.Session
	client  provider.Client
	machine *status.Machine
	cancel  context.CancelFunc

	mu            sync.Mutex
	refreshCancel context.CancelFunc
}

type Orchestrator struct {
	cfg     *config.Config
	db      *store.DB
	media   *media.Store
	factory provider.Factory
	reg     *registry.Registry
	rec     *reconcile.Reconciler
	syncer  *syncer.Engine
	emitter *push.Emitter
	log     *zap.Logger

	root     context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	runtimes map[string]*runtime
}

func New(cfg *config.Config, db *store.DB, ms *media.Store, factory provider.Factory,
	reg *registry.Registry, rec *reconcile.Reconciler, sync *syncer.Engine,
	emitter *push.Emitter, log *zap.Logger) *Orchestrator {

	root, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		db:       db,
		media:    ms,
		factory:  factory,
		reg:      reg,
		rec:      rec,
		syncer:   sync,
		emitter:  emitter,
		log:      log.Named("orchestrator"),
		root:     root,
		shutdown: cancel,
		runtimes: make(map[string]*runtime),
	}
}

// CreateSession resolves or creates the owner, mints a session keyed by the
// owner id and the creation epoch, and starts pairing asynchronously. QR,
// auth and ready progress arrive on the push channel.
func (o *Orchestrator) CreateSession(ctx context.Context, ownerName, name string) (*store.Session, error) {
	owner, err := o.db.ResolveOwner(ownerName)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}

	sess := &store.Session{
		ID:      fmt.Sprintf("%s_%d", owner.ID, time.Now().UnixMilli()),
		OwnerID: owner.ID,
		Name:    name,
		Status:  string(status.Initializing),
	}
	if err := o.db.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := o.start(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ReconnectSession attaches a fresh client to a persisted session, reusing
// its durable credentials. Already-attached sessions are a no-op.
func (o *Orchestrator) ReconnectSession(ctx context.Context, sessionID string) (*store.Session, error) {
	sess, err := o.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	_, attached := o.runtimes[sessionID]
	o.mu.Unlock()
	if attached {
		return sess, nil
	}

	if err := o.start(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// BootReconnectAll reconnects every session that was connected when the
// process last stopped. One session's failure downgrades that session and
// moves on.
func (o *Orchestrator) BootReconnectAll(ctx context.Context) {
	sessions, err := o.db.SessionsByStatus(string(status.Connected))
	if err != nil {
		o.log.Error("boot reconnect: list sessions", zap.Error(err))
		return
	}
	for _, sess := range sessions {
		if _, err := o.ReconnectSession(ctx, sess.ID); err != nil {
			o.log.Warn("boot reconnect failed",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			if err := o.db.UpdateSessionStatus(sess.ID, string(status.Disconnected)); err != nil {
				o.log.Error("downgrade session status", zap.String("session_id", sess.ID), zap.Error(err))
			}
		}
	}
	o.log.Info("boot reconnect pass done", zap.Int("sessions", len(sessions)))
}

// DisconnectSession tears a session down. Teardown is best effort and the
// disconnect half always completes; with hard set, the session row, its
// credentials and its QR artifact are removed afterwards, and a failure
// there is reported as a DeleteFailedError.
func (o *Orchestrator) DisconnectSession(ctx context.Context, sessionID string, hard bool) error {
	sess, err := o.db.GetSession(sessionID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	rt := o.runtimes[sessionID]
	delete(o.runtimes, sessionID)
	o.mu.Unlock()
	o.reg.Remove(sessionID)

	if rt != nil {
		rt.stopRefresh()
		rt.cancel()
		if hard {
			if err := rt.client.Logout(ctx); err != nil {
				o.log.Warn("logout failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
		rt.client.Disconnect()
	}

	if err := o.db.UpdateSessionStatus(sessionID, string(status.Disconnected)); err != nil {
		o.log.Error("persist disconnected status", zap.String("session_id", sessionID), zap.Error(err))
	}
	o.emitter.Emit(sess.OwnerID, push.EventDisconnected, map[string]string{
		"session_id": sessionID,
		"reason":     "requested",
	})

	if !hard {
		return nil
	}

	o.removeQRImage(sessionID)
	if err := o.db.DeleteSession(sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return &DeleteFailedError{SessionID: sessionID, Err: fmt.Errorf("delete session row: %w", err)}
	}
	if err := o.factory.DeleteCredentials(sessionID); err != nil {
		return &DeleteFailedError{SessionID: sessionID, Err: fmt.Errorf("delete credentials: %w", err)}
	}
	return nil
}

// Shutdown stops every attached session without touching persisted state.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	rts := make([]*runtime, 0, len(o.runtimes))
	for id, rt := range o.runtimes {
		rts = append(rts, rt)
		delete(o.runtimes, id)
	}
	o.mu.Unlock()

	for _, rt := range rts {
		rt.stopRefresh()
		rt.cancel()
		rt.client.Disconnect()
		o.reg.Remove(rt.sess.ID)
	}
	o.shutdown()
}

func (o *Orchestrator) start(ctx context.Context, sess *store.Session) error {
	client, err := o.factory.NewClient(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}

	runCtx, cancel := context.WithCancel(o.root)
	rt := &runtime{
		sess:    sess,
		client:  client,
		machine: status.NewMachine(),
		cancel:  cancel,
	}

	o.mu.Lock()
	if _, exists := o.runtimes[sess.ID]; exists {
		o.mu.Unlock()
		cancel()
		client.Disconnect()
		return nil
	}
	o.runtimes[sess.ID] = rt
	o.mu.Unlock()

	go o.eventLoop(runCtx, rt)

	if err := client.Connect(runCtx); err != nil {
		o.detach(rt)
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// detach removes a runtime without persisting a status change.
func (o *Orchestrator) detach(rt *runtime) {
	o.mu.Lock()
	if o.runtimes[rt.sess.ID] == rt {
		delete(o.runtimes, rt.sess.ID)
	}
	o.mu.Unlock()
	o.reg.Remove(rt.sess.ID)
	rt.stopRefresh()
	rt.cancel()
}

func (o *Orchestrator) eventLoop(ctx context.Context, rt *runtime) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rt.client.Events():
			if !ok {
				return
			}
			o.handleEvent(ctx, rt, ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, rt *runtime, ev provider.Event) {
	sess := rt.sess
	switch ev := ev.(type) {
	case provider.QREvent:
		if err := o.db.UpdateSessionQR(sess.ID, ev.Code); err != nil {
			o.log.Error("persist qr", zap.String("session_id", sess.ID), zap.Error(err))
			return
		}
		o.writeQRImage(sess.ID, ev.Code)
		o.emitter.Emit(sess.OwnerID, push.EventQR, map[string]string{
			"session_id": sess.ID,
			"qr":         ev.Code,
		})

	case provider.AuthenticatedEvent:
		if !o.transition(rt, status.Authenticated) {
			return
		}
		o.reg.Put(&registry.Entry{
			SessionID: sess.ID,
			OwnerID:   sess.OwnerID,
			Client:    rt.client,
			Stop:      rt.cancel,
		})
		o.emitter.Emit(sess.OwnerID, push.EventAuthenticated, map[string]string{
			"session_id": sess.ID,
		})

	case provider.ReadyEvent:
		if !o.transition(rt, status.Connected) {
			return
		}
		// A credential-reusing reconnect can reach ready without an
		// authenticated event.
		if _, ok := o.reg.Get(sess.ID); !ok {
			o.reg.Put(&registry.Entry{
				SessionID: sess.ID,
				OwnerID:   sess.OwnerID,
				Client:    rt.client,
				Stop:      rt.cancel,
			})
		}
		if err := o.db.UpdateSessionQR(sess.ID, ""); err != nil {
			o.log.Error("clear qr", zap.String("session_id", sess.ID), zap.Error(err))
		}
		o.removeQRImage(sess.ID)
		o.emitter.Emit(sess.OwnerID, push.EventReady, map[string]string{
			"session_id": sess.ID,
			"number":     ev.SelfNumber,
		})

		go func() {
			if _, err := o.syncer.Run(ctx, sess, rt.client); err != nil {
				o.log.Warn("catch-up sync failed", zap.String("session_id", sess.ID), zap.Error(err))
			}
			o.profileWalk(ctx, sess, rt.client)
		}()
		o.startRefresh(ctx, rt)

	case provider.DisconnectedEvent:
		if !o.transition(rt, status.Disconnected) {
			return
		}
		o.emitter.Emit(sess.OwnerID, push.EventDisconnected, map[string]string{
			"session_id": sess.ID,
			"reason":     ev.Reason,
		})
		o.detach(rt)

	case provider.MessageEvent:
		if err := o.rec.HandleMessage(ctx, sess, rt.client, ev); err != nil {
			o.log.Error("reconcile message failed",
				zap.String("session_id", sess.ID),
				zap.String("message_id", ev.Msg.ID),
				zap.Error(err))
		}
	}
}

// transition advances the machine and persists the new status before any
// publication. An invalid transition is logged and dropped.
func (o *Orchestrator) transition(rt *runtime, to status.Status) bool {
	if err := rt.machine.Transition(to); err != nil {
		o.log.Warn("dropped lifecycle event",
			zap.String("session_id", rt.sess.ID),
			zap.String("to", string(to)),
			zap.Error(err))
		return false
	}
	if err := o.db.UpdateSessionStatus(rt.sess.ID, string(to)); err != nil {
		o.log.Error("persist session status",
			zap.String("session_id", rt.sess.ID),
			zap.String("status", string(to)),
			zap.Error(err))
		return false
	}
	rt.sess.Status = string(to)
	return true
}

func (o *Orchestrator) writeQRImage(sessionID, code string) {
	path := filepath.Join(o.media.Dir(), "qr_"+sessionID+".png")
	if err := qrcode.WriteFile(code, qrcode.Medium, 256, path); err != nil {
		o.log.Warn("write qr image", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (o *Orchestrator) removeQRImage(sessionID string) {
	path := filepath.Join(o.media.Dir(), "qr_"+sessionID+".png")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		o.log.Warn("remove qr image", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (rt *runtime) stopRefresh() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.refreshCancel != nil {
		rt.refreshCancel()
		rt.refreshCancel = nil
	}
}

func (rt *runtime) setRefresh(cancel context.CancelFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.refreshCancel != nil {
		rt.refreshCancel()
	}
	rt.refreshCancel = cancel
}
