package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/provider"
	"github.com/zapdeskhq/zapdesk/internal/push"
	"github.com/zapdeskhq/zapdesk/internal/reconcile"
	"github.com/zapdeskhq/zapdesk/internal/registry"
	"github.com/zapdeskhq/zapdesk/internal/status"
	"github.com/zapdeskhq/zapdesk/internal/store"
)

// maxMediaFetch caps how many bytes a URL-sourced attachment may be.
const maxMediaFetch = 64 << 20

var mediaHTTP = &http.Client{Timeout: 30 * time.Second}

// MediaInput is one outbound attachment. Exactly one of Data, URL or Base64
// must be set.
type MediaInput struct {
	Data   []byte
	URL    string
	Base64 string

	MimeType string
	Filename string
	Caption  string
}

// SendText dispatches a text message through a connected session and
// records it. A duplicate id from a resent echo is treated as success.
func (o *Orchestrator) SendText(ctx context.Context, sessionID, to, text string) (*store.Message, error) {
	entry, sess, err := o.liveSession(sessionID)
	if err != nil {
		return nil, err
	}

	result, err := entry.Client.SendText(ctx, provider.FormatID(to), text)
	if err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}
	return o.recordOutbound(sess, to, result, store.TextBody(text))
}

// SendMedia resolves the attachment bytes, dispatches them through a
// connected session, stores a local copy and records the message with the
// media envelope body.
func (o *Orchestrator) SendMedia(ctx context.Context, sessionID, to string, in MediaInput) (*store.Message, error) {
	entry, sess, err := o.liveSession(sessionID)
	if err != nil {
		return nil, err
	}

	data, mimeType, err := resolveMedia(ctx, in)
	if err != nil {
		return nil, err
	}

	result, err := entry.Client.SendMedia(ctx, provider.FormatID(to), provider.Media{
		Data:     data,
		MimeType: mimeType,
		Filename: in.Filename,
		Caption:  in.Caption,
	})
	if err != nil {
		return nil, fmt.Errorf("send media: %w", err)
	}

	base := in.Filename
	if base == "" {
		base = result.ID
	}
	saved, err := o.media.Save(data, mimeType, base)
	if err != nil {
		return nil, fmt.Errorf("store media copy: %w", err)
	}

	body := store.Body{
		Kind:          "media",
		Text:          in.Caption,
		MediaURL:      saved.PublicURL,
		MediaMime:     mimeType,
		MediaFilename: saved.Filename,
		MediaType:     media.TypeFromMime(mimeType),
	}
	return o.recordOutbound(sess, to, result, body)
}

// liveSession resolves a session that is connected and registered.
func (o *Orchestrator) liveSession(sessionID string) (*registry.Entry, *store.Session, error) {
	entry, ok := o.reg.Get(sessionID)
	if !ok {
		return nil, nil, ErrSessionUnavailable
	}
	sess, err := o.db.GetSession(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status != string(status.Connected) {
		return nil, nil, ErrSessionUnavailable
	}
	return entry, sess, nil
}

func (o *Orchestrator) recordOutbound(sess *store.Session, to string, result *provider.SendResult, body store.Body) (*store.Message, error) {
	record := &store.Message{
		ID:         result.ID,
		SessionID:  sess.ID,
		FromNumber: store.SelfNumber,
		ToNumber:   provider.BareID(provider.FormatID(to)),
		Body:       body.Encode(),
		Timestamp:  result.Timestamp,
		IsRead:     true,
	}
	if err := o.db.InsertMessage(record); err != nil {
		if !errors.Is(err, store.ErrUniqueViolation) {
			return nil, fmt.Errorf("record outbound message: %w", err)
		}
		// The echo path beat us to it.
		stored, getErr := o.db.GetMessage(result.ID)
		if getErr != nil {
			return nil, fmt.Errorf("refetch outbound %s: %w", result.ID, getErr)
		}
		return stored, nil
	}

	o.emitter.Emit(sess.OwnerID, push.EventMessage, reconcile.MessagePush{
		SessionID: sess.ID,
		Message:   *record,
	})
	return record, nil
}

func resolveMedia(ctx context.Context, in MediaInput) ([]byte, string, error) {
	sources := 0
	if len(in.Data) > 0 {
		sources++
	}
	if in.URL != "" {
		sources++
	}
	if in.Base64 != "" {
		sources++
	}
	if sources != 1 {
		return nil, "", ErrInvalidMedia
	}

	switch {
	case len(in.Data) > 0:
		if in.MimeType == "" {
			return nil, "", fmt.Errorf("%w: mime type required for raw payload", ErrInvalidMedia)
		}
		return in.Data, in.MimeType, nil

	case in.Base64 != "":
		data, err := base64.StdEncoding.DecodeString(in.Base64)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad base64 payload", ErrInvalidMedia)
		}
		if in.MimeType == "" {
			return nil, "", fmt.Errorf("%w: mime type required for base64 payload", ErrInvalidMedia)
		}
		return data, in.MimeType, nil

	default:
		return fetchMediaURL(ctx, in.URL, in.MimeType)
	}
}

func fetchMediaURL(ctx context.Context, url, mimeHint string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad media url", ErrInvalidMedia)
	}
	resp, err := mediaHTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media url: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media url: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaFetch+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media url: %w", err)
	}
	if len(data) > maxMediaFetch {
		return nil, "", fmt.Errorf("media url payload exceeds %d bytes", maxMediaFetch)
	}

	mimeType := mimeHint
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}
