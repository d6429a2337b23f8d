package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zapdeskhq/zapdesk/internal/bus"
	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/provider"
	"github.com/zapdeskhq/zapdesk/internal/provider/providertest"
	"github.com/zapdeskhq/zapdesk/internal/push"
	"github.com/zapdeskhq/zapdesk/internal/reconcile"
	"github.com/zapdeskhq/zapdesk/internal/registry"
	"github.com/zapdeskhq/zapdesk/internal/status"
	"github.com/zapdeskhq/zapdesk/internal/store"
	"github.com/zapdeskhq/zapdesk/internal/syncer"
)

type fixture struct {
	db      *store.DB
	media   *media.Store
	factory *providertest.Factory
	reg     *registry.Registry
	orch    *Orchestrator
	pushes  <-chan bus.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Data.Dir = t.TempDir()
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ms, err := media.NewStore(cfg.MediaDir())
	if err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	pushes, cancelSub := b.Subscribe(push.Namespace, 64)
	t.Cleanup(cancelSub)

	emitter := push.NewEmitter(b)
	log := zap.NewNop()
	factory := providertest.NewFactory()
	reg := registry.New()
	rec := reconcile.New(db, ms, emitter, log)
	sync := syncer.New(db, ms, emitter, log, cfg.Sync.PageLimit)

	orch := New(cfg, db, ms, factory, reg, rec, sync, emitter, log)
	t.Cleanup(orch.Shutdown)

	return &fixture{db: db, media: ms, factory: factory, reg: reg, orch: orch, pushes: pushes}
}

func (f *fixture) create(t *testing.T) (*store.Session, *providertest.Client) {
	t.Helper()
	sess, err := f.orch.CreateSession(context.Background(), "alice", "work")
	if err != nil {
		t.Fatal(err)
	}
	client := f.factory.Client(sess.ID)
	if client == nil {
		t.Fatal("no client minted")
	}
	return sess, client
}

// connect drives a session through authenticated and ready.
func (f *fixture) connect(t *testing.T, sess *store.Session, client *providertest.Client) {
	t.Helper()
	client.Emit(provider.AuthenticatedEvent{})
	client.Emit(provider.ReadyEvent{SelfNumber: client.SelfNumber()})
	f.waitStatus(t, sess.ID, status.Connected)
}

func (f *fixture) waitStatus(t *testing.T, sessionID string, want status.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := f.db.GetSession(sessionID)
		if err == nil && sess.Status == string(want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	sess, _ := f.db.GetSession(sessionID)
	t.Fatalf("session never reached %s (now %+v)", want, sess)
}

func (f *fixture) waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func (f *fixture) waitPush(t *testing.T, event string) push.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-f.pushes:
			env := evt.Payload.(push.Envelope)
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("no %q push", event)
		}
	}
}

func TestCreateSessionMintsIDAndConnects(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)

	owner, err := f.db.ResolveOwner("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sess.ID, owner.ID+"_") {
		t.Errorf("session id %q not keyed by owner", sess.ID)
	}
	if sess.Status != string(status.Initializing) {
		t.Errorf("status = %s", sess.Status)
	}
	f.waitFor(t, "client connect", func() bool { return client.Connected })

	// Attaching again is a no-op.
	if _, err := f.orch.ReconnectSession(context.Background(), sess.ID); err != nil {
		t.Fatal(err)
	}
}

func TestQRPersistedAndPushed(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)

	client.Emit(provider.QREvent{Code: "pairing-code"})

	f.waitFor(t, "qr persisted", func() bool {
		s, err := f.db.GetSession(sess.ID)
		return err == nil && s.QRCode == "pairing-code"
	})
	env := f.waitPush(t, push.EventQR)
	if env.OwnerID != sess.OwnerID {
		t.Errorf("push owner = %s", env.OwnerID)
	}

	pngPath := filepath.Join(f.media.Dir(), "qr_"+sess.ID+".png")
	if _, err := os.Stat(pngPath); err != nil {
		t.Errorf("qr image not written: %v", err)
	}
}

func TestAuthenticatedRegistersSession(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)

	if f.reg.Len() != 0 {
		t.Fatal("registered before authenticated")
	}
	client.Emit(provider.AuthenticatedEvent{})
	f.waitStatus(t, sess.ID, status.Authenticated)

	entry, ok := f.reg.Get(sess.ID)
	if !ok || entry.OwnerID != sess.OwnerID {
		t.Fatalf("registry entry = %+v, %v", entry, ok)
	}
	f.waitPush(t, push.EventAuthenticated)
}

func TestReadyClearsQRAndRunsCatchUp(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)

	client.ChatList = []provider.Chat{&providertest.Chat{
		ChatID:   "5511988887777@c.us",
		ChatName: "Bob",
		Msgs: []provider.Message{{
			ID:        "h1",
			ChatID:    "5511988887777@c.us",
			SenderID:  "5511988887777@c.us",
			Text:      "missed you",
			Timestamp: 100,
		}},
	}}
	client.Pics["5511988887777@c.us"] = "http://pic/bob"

	client.Emit(provider.QREvent{Code: "pairing-code"})
	f.connect(t, sess, client)

	f.waitFor(t, "qr cleared", func() bool {
		s, err := f.db.GetSession(sess.ID)
		return err == nil && s.QRCode == ""
	})
	f.waitFor(t, "history synced", func() bool {
		_, err := f.db.GetMessage("h1")
		return err == nil
	})
	f.waitFor(t, "profile walk", func() bool {
		c, err := f.db.GetContactByNumber(sess.ID, "5511988887777")
		return err == nil && c.ProfilePicURL == "http://pic/bob"
	})
}

func TestLiveMessageReachesStore(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)

	client.Emit(provider.MessageEvent{Msg: provider.Message{
		ID:        "m1",
		ChatID:    "5511988887777@c.us",
		SenderID:  "5511988887777@c.us",
		Text:      "hello",
		Timestamp: 1700000001,
	}})

	f.waitFor(t, "message persisted", func() bool {
		_, err := f.db.GetMessage("m1")
		return err == nil
	})
}

func TestSendTextRequiresConnected(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)

	if _, err := f.orch.SendText(context.Background(), sess.ID, "5511988887777", "hi"); !errors.Is(err, ErrSessionUnavailable) {
		t.Fatalf("send before connect = %v, want ErrSessionUnavailable", err)
	}

	f.connect(t, sess, client)
	msg, err := f.orch.SendText(context.Background(), sess.ID, "5511988887777", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.FromNumber != store.SelfNumber || msg.ToNumber != "5511988887777" || !msg.IsRead {
		t.Errorf("recorded message = %+v", msg)
	}
	if len(client.SentTexts) != 1 || client.SentTexts[0].To != "5511988887777@c.us" {
		t.Errorf("sent = %+v", client.SentTexts)
	}
}

func TestSendTextToleratesEchoRace(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)

	// The echo already recorded the id the provider will assign next.
	pre := &store.Message{ID: "sent-1", SessionID: sess.ID, FromNumber: store.SelfNumber, ToNumber: "5511988887777", Body: "hi", Timestamp: 1001, IsRead: true}
	if err := f.db.InsertMessage(pre); err != nil {
		t.Fatal(err)
	}

	msg, err := f.orch.SendText(context.Background(), sess.ID, "5511988887777", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "sent-1" {
		t.Errorf("returned message id = %s", msg.ID)
	}
	count, err := f.db.MessageCount(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("message count = %d, want 1", count)
	}
}

func TestSendMediaSourceValidation(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)

	cases := []MediaInput{
		{},
		{Data: []byte("x"), URL: "http://example.com/a.png", MimeType: "image/png"},
		{Data: []byte("x"), Base64: "eA==", MimeType: "image/png"},
	}
	for i, in := range cases {
		if _, err := f.orch.SendMedia(context.Background(), sess.ID, "5511988887777", in); !errors.Is(err, ErrInvalidMedia) {
			t.Errorf("case %d: err = %v, want ErrInvalidMedia", i, err)
		}
	}
}

func TestSendMediaRecordsEnvelope(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)

	msg, err := f.orch.SendMedia(context.Background(), sess.ID, "5511988887777", MediaInput{
		Base64:   "aGVsbG8=",
		MimeType: "image/png",
		Filename: "pic.png",
		Caption:  "look",
	})
	if err != nil {
		t.Fatal(err)
	}

	body := store.DecodeBody(msg.Body)
	if body.Kind != "media" || body.MediaType != "image" || body.Text != "look" {
		t.Errorf("body = %+v", body)
	}
	if len(client.SentMedia) != 1 || string(client.SentMedia[0].Media.Data) != "hello" {
		t.Errorf("sent media = %+v", client.SentMedia)
	}
}

func TestDisconnectSoftKeepsRow(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)

	if err := f.orch.DisconnectSession(context.Background(), sess.ID, false); err != nil {
		t.Fatal(err)
	}

	got, err := f.db.GetSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(status.Disconnected) {
		t.Errorf("status = %s", got.Status)
	}
	if _, ok := f.reg.Get(sess.ID); ok {
		t.Error("registry entry survived disconnect")
	}
	if !client.Disconnected {
		t.Error("client not torn down")
	}
	if client.LoggedOut {
		t.Error("soft disconnect logged the account out")
	}

	// The row and credentials survive, so reconnect works.
	if _, err := f.orch.ReconnectSession(context.Background(), sess.ID); err != nil {
		t.Fatal(err)
	}
}

func TestDisconnectHardDeletesEverything(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)

	if err := f.orch.DisconnectSession(context.Background(), sess.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.GetSession(sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("session row survived: %v", err)
	}
	if len(f.factory.Deleted) != 1 || f.factory.Deleted[0] != sess.ID {
		t.Errorf("credentials not deleted: %v", f.factory.Deleted)
	}
	if !client.LoggedOut {
		t.Error("hard delete did not log out")
	}
}

func TestDisconnectHardReportsDeleteHalfFailure(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)
	f.factory.DeleteErr = errors.New("credential dir busy")

	err := f.orch.DisconnectSession(context.Background(), sess.ID, true)
	var dfe *DeleteFailedError
	if !errors.As(err, &dfe) {
		t.Fatalf("err = %v, want DeleteFailedError", err)
	}
	if dfe.SessionID != sess.ID {
		t.Errorf("error session = %s", dfe.SessionID)
	}

	// The disconnect half still completed.
	if !client.Disconnected {
		t.Error("client not torn down")
	}
	if _, ok := f.reg.Get(sess.ID); ok {
		t.Error("registry entry survived")
	}
}

func TestDisconnectUnknownSession(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.DisconnectSession(context.Background(), "nope", false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestProviderDropDowngradesSession(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)

	client.Emit(provider.DisconnectedEvent{Reason: "stream error"})
	f.waitStatus(t, sess.ID, status.Disconnected)

	f.waitFor(t, "registry cleanup", func() bool {
		_, ok := f.reg.Get(sess.ID)
		return !ok
	})
	env := f.waitPush(t, push.EventDisconnected)
	if env.Data.(map[string]string)["reason"] != "stream error" {
		t.Errorf("push = %+v", env)
	}
}

func TestBootReconnectAll(t *testing.T) {
	f := newFixture(t)

	owner, err := f.db.ResolveOwner("alice")
	if err != nil {
		t.Fatal(err)
	}
	good := &store.Session{ID: owner.ID + "_1", OwnerID: owner.ID, Name: "good", Status: string(status.Connected)}
	idle := &store.Session{ID: owner.ID + "_2", OwnerID: owner.ID, Name: "idle", Status: string(status.Disconnected)}
	for _, s := range []*store.Session{good, idle} {
		if err := f.db.CreateSession(s); err != nil {
			t.Fatal(err)
		}
	}

	f.orch.BootReconnectAll(context.Background())

	if f.factory.Client(good.ID) == nil {
		t.Error("connected session not reattached")
	}
	if f.factory.Client(idle.ID) != nil {
		t.Error("disconnected session reattached")
	}
}

func TestBootReconnectIsolatesFailures(t *testing.T) {
	f := newFixture(t)

	owner, err := f.db.ResolveOwner("alice")
	if err != nil {
		t.Fatal(err)
	}
	sess := &store.Session{ID: owner.ID + "_1", OwnerID: owner.ID, Name: "work", Status: string(status.Connected)}
	if err := f.db.CreateSession(sess); err != nil {
		t.Fatal(err)
	}
	f.factory.NewErr = errors.New("credential store corrupt")

	f.orch.BootReconnectAll(context.Background())

	got, err := f.db.GetSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != string(status.Disconnected) {
		t.Errorf("failed session status = %s, want disconnected", got.Status)
	}
}

func TestSetContactStatus(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)

	contact, err := f.db.UpsertContact(&store.Contact{SessionID: sess.ID, Number: "5511988887777"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.orch.SetContactStatus(context.Background(), contact.ID, "archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("invalid status err = %v", err)
	}

	updated, err := f.orch.SetContactStatus(context.Background(), contact.ID, store.StatusOpen)
	if err != nil {
		t.Fatal(err)
	}
	if updated.ConversationStatus != store.StatusOpen {
		t.Errorf("status = %s", updated.ConversationStatus)
	}
	env := f.waitPush(t, push.EventContactStatus)
	if env.OwnerID != sess.OwnerID {
		t.Errorf("push owner = %s", env.OwnerID)
	}
}

func TestContactProfilePic(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)
	client.Pics["5511988887777@c.us"] = "http://pic/bob"

	url, err := f.orch.ContactProfilePic(context.Background(), sess.ID, "5511988887777")
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://pic/bob" {
		t.Errorf("url = %q", url)
	}

	contact, err := f.db.GetContactByNumber(sess.ID, "5511988887777")
	if err != nil {
		t.Fatal(err)
	}
	if contact.ProfilePicURL != url {
		t.Errorf("cached pic = %q", contact.ProfilePicURL)
	}

	// Provider failure degrades to empty, not error.
	client.PicErr = errors.New("not visible")
	url, err = f.orch.ContactProfilePic(context.Background(), sess.ID, "5511900000000")
	if err != nil || url != "" {
		t.Errorf("degraded lookup = %q, %v", url, err)
	}
}

func TestMarkConversationRead(t *testing.T) {
	f := newFixture(t)
	sess, client := f.create(t)
	f.connect(t, sess, client)

	msg := &store.Message{ID: "m1", SessionID: sess.ID, FromNumber: "5511988887777", ToNumber: store.SelfNumber, Body: "hi", Timestamp: 100}
	if err := f.db.InsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	n, err := f.orch.MarkConversationRead(context.Background(), sess.ID, "5511988887777")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("marked %d, want 1", n)
	}
	if _, err := f.orch.MarkConversationRead(context.Background(), "nope", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown session err = %v", err)
	}
}
