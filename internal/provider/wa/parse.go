package wa

import (
	"context"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/provider"
)

func (c *Client) parseLive(evt *events.Message) provider.Message {
	ctx := context.Background()
	chat := c.resolveJID(ctx, evt.Info.Chat)
	sender := c.resolveJID(ctx, evt.Info.Sender)

	msg := provider.Message{
		ID:        evt.Info.ID,
		ChatID:    chat.String(),
		SenderID:  sender.String(),
		Text:      extractText(evt.Message),
		Timestamp: evt.Info.Timestamp.Unix(),
		FromMe:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup || chat.Server == types.GroupServer,
	}
	c.attachMedia(&msg, evt.Message)
	return msg
}

// extractText returns the message text: plain body or attachment caption.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

// attachMedia marks the message downloadable when it carries an attachment.
// The fetch closure downloads lazily so skipped messages cost nothing.
func (c *Client) attachMedia(out *provider.Message, msg *waE2E.Message) {
	if msg == nil {
		return
	}

	var mime, filename string
	switch {
	case msg.GetImageMessage() != nil:
		mime = msg.GetImageMessage().GetMimetype()
	case msg.GetAudioMessage() != nil:
		mime = msg.GetAudioMessage().GetMimetype()
	case msg.GetVideoMessage() != nil:
		mime = msg.GetVideoMessage().GetMimetype()
	case msg.GetDocumentMessage() != nil:
		mime = msg.GetDocumentMessage().GetMimetype()
		filename = msg.GetDocumentMessage().GetFileName()
	case msg.GetStickerMessage() != nil:
		mime = msg.GetStickerMessage().GetMimetype()
	default:
		return
	}

	out.HasMedia = true
	out.MimeType = mime
	out.Filename = filename
	out.Fetch = func(ctx context.Context) ([]byte, error) {
		return c.wm.DownloadAny(ctx, msg)
	}
}

func (c *Client) buildMediaMessage(ctx context.Context, m provider.Media) (*waE2E.Message, error) {
	kind := media.TypeFromMime(m.MimeType)

	var mediaType whatsmeow.MediaType
	switch kind {
	case "image":
		mediaType = whatsmeow.MediaImage
	case "audio":
		mediaType = whatsmeow.MediaAudio
	case "video":
		mediaType = whatsmeow.MediaVideo
	default:
		mediaType = whatsmeow.MediaDocument
	}

	up, err := c.wm.Upload(ctx, m.Data, mediaType)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "image":
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(m.Caption),
			Mimetype:      proto.String(m.MimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}}, nil
	case "audio":
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(m.MimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}}, nil
	case "video":
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(m.Caption),
			Mimetype:      proto.String(m.MimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(m.Caption),
			FileName:      proto.String(m.Filename),
			Mimetype:      proto.String(m.MimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}}, nil
	}
}
