package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// AdminTriggerMarker prefixes system messages that force a sales pitch.
const AdminTriggerMarker = "[ADMIN_TRIGGER_SALE]"

const (
	paymentGeneratedTag = "PIX GENERATED"
	paymentResentTag    = "PIX RESENT"
)

var (
	audioPlaceholderRe = regexp.MustCompile(`\[AUDIO_UUID: ([^\]\s]+)\]`)
	videoPlaceholderRe = regexp.MustCompile(`\[VIDEO_UPLOAD\] File_ID: (\S+)`)
	photoPlaceholderRe = regexp.MustCompile(`\[PHOTO_UPLOAD\] File_ID: (\S+)`)
	captionRe          = regexp.MustCompile(`(?i)caption:\s*(.*)$`)
)

// InboundMedia is a media reference found in stored user text.
type InboundMedia struct {
	Kind    MediaType
	FileID  string
	Caption string
	Raw     string
}

// AudioPlaceholder is stored in place of a voice note until it is transcribed.
func AudioPlaceholder(fileID string) string {
	return fmt.Sprintf("[AUDIO_UUID: %s]", fileID)
}

// VideoPlaceholder is stored for an inbound video.
func VideoPlaceholder(fileID, caption string) string {
	return fmt.Sprintf("[VIDEO_UPLOAD] File_ID: %s CAPTION: %s", fileID, strings.TrimSpace(caption))
}

// PhotoPlaceholder is stored for an inbound photo.
func PhotoPlaceholder(fileID, caption string) string {
	return fmt.Sprintf("[PHOTO_UPLOAD] File_ID: %s CAPTION: %s", fileID, strings.TrimSpace(caption))
}

// TranscriptionContent replaces an audio placeholder once the text is known.
func TranscriptionContent(text string) string {
	return fmt.Sprintf("[AUDIO (transcription): %q]", strings.TrimSpace(text))
}

// FindInboundMedia returns the first audio, video and photo references in text, in that order.
func FindInboundMedia(text string) []InboundMedia {
	var found []InboundMedia
	if m := audioPlaceholderRe.FindStringSubmatch(text); m != nil {
		found = append(found, InboundMedia{Kind: MediaAudio, FileID: m[1], Raw: m[0]})
	}
	if loc := videoPlaceholderRe.FindStringSubmatchIndex(text); loc != nil {
		found = append(found, mediaFromLine(MediaVideo, text, loc))
	}
	if loc := photoPlaceholderRe.FindStringSubmatchIndex(text); loc != nil {
		found = append(found, mediaFromLine(MediaImage, text, loc))
	}
	return found
}

func mediaFromLine(kind MediaType, text string, loc []int) InboundMedia {
	line := text[loc[0]:]
	if end := strings.IndexAny(line, "\r\n"); end >= 0 {
		line = line[:end]
	}
	media := InboundMedia{Kind: kind, FileID: text[loc[2]:loc[3]], Raw: line}
	if m := captionRe.FindStringSubmatch(line); m != nil {
		media.Caption = strings.TrimSpace(m[1])
	}
	return media
}

// IsAdminTrigger reports whether a system message carries the force-sale marker.
func IsAdminTrigger(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), AdminTriggerMarker)
}

// PaymentGeneratedContent is the ledger text stored with a new payment.
func PaymentGeneratedContent(value float64, paymentID string) string {
	return fmt.Sprintf("[SYSTEM: %s - %.2f | ID: %s]", paymentGeneratedTag, value, paymentID)
}

// PaymentResentContent is the ledger text stored when a pending code is resent.
func PaymentResentContent(value float64) string {
	return fmt.Sprintf("[SYSTEM: %s - %.2f]", paymentResentTag, value)
}

// PaymentConfirmedContent is the ledger text stored when a payment is confirmed.
func PaymentConfirmedContent(value, newTotal float64) string {
	return fmt.Sprintf("[SYSTEM: PAYMENT CONFIRMED - %.2f | TOTAL PAID: %.2f]", value, newTotal)
}

// PaymentGeneratedPattern matches the ledger text of generated payments (SQL ILIKE).
const PaymentGeneratedPattern = "%" + paymentGeneratedTag + "%"

// MediaSentContent is the transcript line recorded for media the bot sent.
func MediaSentContent(tag string) string {
	return fmt.Sprintf("[MEDIA: %s]", tag)
}
