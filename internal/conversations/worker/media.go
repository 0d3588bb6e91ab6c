package worker

import (
	"context"
	"fmt"
	"strings"

	"chatfunnel_backend/internal/adapters/storage"
	"chatfunnel_backend/internal/conversations/agent"
	"chatfunnel_backend/internal/conversations/channels"
	"chatfunnel_backend/internal/conversations/domain"

	"github.com/google/uuid"
)

const (
	audioAttachedText   = "[The user sent a voice message. The audio is attached; transcribe it and answer its content.]"
	audioMissingText    = "[The user sent a voice message that could not be loaded.]"
	videoReceivedText   = "[The user sent a video. Its receipt was confirmed.]"
	photoReceivedText   = "[The user sent a photo. It was not forwarded; react naturally without describing it.]"
	captionSuffixFormat = " Caption: %s"
)

// inboundMedia is the generator-facing view of the batch's media.
type inboundMedia struct {
	UserText     string
	Media        []agent.Media
	AudioMessage *uuid.UUID
}

// resolveInboundMedia replaces media placeholders with neutral descriptions.
// Audio bytes are attached for the generator; video and photos get a durable
// reference stored on the originating message. Failures degrade to text.
func (p *Processor) resolveInboundMedia(ctx context.Context, session domain.Session, ch channels.Adapter, batch Batch) inboundMedia {
	out := inboundMedia{UserText: batch.Combined}
	log := p.log.WithContext(ctx)

	for _, found := range domain.FindInboundMedia(batch.Combined) {
		switch found.Kind {
		case domain.MediaAudio:
			data, mimeType, err := p.channels.Download(ctx, ch, found.FileID)
			if err != nil {
				log.Warn("voice message download failed", "fileId", found.FileID, "error", err)
				out.UserText = strings.Replace(out.UserText, found.Raw, audioMissingText, 1)
				continue
			}
			if !strings.HasPrefix(mimeType, "audio/") {
				// Telegram voice notes come back as octet streams.
				mimeType = "audio/ogg"
			}
			out.Media = append(out.Media, agent.Media{MIMEType: mimeType, Data: data})
			out.UserText = strings.Replace(out.UserText, found.Raw, audioAttachedText, 1)
			if m := batch.messageWith(found.FileID); m != nil {
				id := m.ID
				out.AudioMessage = &id
			}

		case domain.MediaVideo, domain.MediaImage:
			text := videoReceivedText
			if found.Kind == domain.MediaImage {
				text = photoReceivedText
			}
			if found.Caption != "" {
				text += fmt.Sprintf(captionSuffixFormat, found.Caption)
			}
			out.UserText = strings.Replace(out.UserText, found.Raw, text, 1)

			if m := batch.messageWith(found.FileID); m != nil && m.MediaURL == "" {
				p.persistInboundMedia(ctx, session, ch, *m, found)
			}
		}
	}
	return out
}

// persistInboundMedia copies the file to object storage when available and
// records the presigned URL. Without storage the platform file id is kept,
// which both channels can resolve again on demand.
func (p *Processor) persistInboundMedia(ctx context.Context, session domain.Session, ch channels.Adapter, m domain.Message, found domain.InboundMedia) {
	log := p.log.WithContext(ctx)
	ref := found.FileID

	if p.media != nil {
		url, err := p.copyToStorage(ctx, session, ch, found)
		if err != nil {
			log.Warn("inbound media not stored", "fileId", found.FileID, "error", err)
		} else {
			ref = url
		}
	}

	if err := p.store.UpdateMessageMedia(ctx, m.ID, ref, found.Kind); err != nil {
		log.Warn("inbound media reference not saved", "messageId", m.ID, "error", err)
	}
}

func (p *Processor) copyToStorage(ctx context.Context, session domain.Session, ch channels.Adapter, found domain.InboundMedia) (string, error) {
	data, mimeType, err := p.channels.Download(ctx, ch, found.FileID)
	if err != nil {
		return "", err
	}

	folder := "sessions/" + session.ID.String()
	name := string(found.Kind) + storage.ExtensionFor(mimeType)
	key, err := p.media.UploadBytes(ctx, p.mediaBucket, folder, name, mimeType, data)
	if err != nil {
		return "", err
	}

	link, err := p.media.GenerateDownloadURL(ctx, p.mediaBucket, key, storage.MaxPresignTTL)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}
