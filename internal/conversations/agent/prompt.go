package agent

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"chatfunnel_backend/internal/conversations/domain"
)

const (
	maxCatalogEntries  = 50
	maxCatalogFieldLen = 160
)

var catalogSpaceRe = regexp.MustCompile(`\s+`)

var brazilZone = func() *time.Location {
	if loc, err := time.LoadLocation("America/Sao_Paulo"); err == nil {
		return loc
	}
	return time.FixedZone("BRT", -3*60*60)
}()

// periodOfDay describes the local time of day so replies match it.
func periodOfDay(now time.Time) string {
	switch hour := now.In(brazilZone).Hour(); {
	case hour < 6:
		return "late night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

func squash(s string) string {
	s = strings.TrimSpace(catalogSpaceRe.ReplaceAllString(s, " "))
	if r := []rune(s); len(r) > maxCatalogFieldLen {
		return string(r[:maxCatalogFieldLen])
	}
	return s
}

// FormatPreviewCatalog renders enabled previews, one line each.
func FormatPreviewCatalog(previews []domain.PreviewAsset) string {
	var b strings.Builder
	for i, p := range previews {
		if i == maxCatalogEntries {
			break
		}
		if !p.Enabled {
			continue
		}
		stage := p.Stage
		if !stage.Valid() {
			stage = domain.StagePreview
		}
		when := squash(p.Triggers)
		if when == "" {
			when = squash(p.Description)
		}
		fmt.Fprintf(&b, "ID: %s | Name: %s | Type: %s | Stage: %s | Lust: %d-%d | Tags: %s | When to use: %s\n",
			p.ID, p.Name, p.MediaType, stage, p.MinScore, p.MaxScore, strings.Join(p.Tags, ", "), when)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatScore(s domain.LeadScore) string {
	return fmt.Sprintf("lust %d | financial %d | affection %d | sentimental %d",
		s.Lust, s.Financial, s.Affection, s.Sentimental)
}

// BuildSystemInstruction assembles the instruction block for a turn.
func BuildSystemInstruction(req Request) string {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	var b strings.Builder
	if persona := strings.TrimSpace(req.Persona); persona != "" {
		b.WriteString("# PERSONA\n")
		b.WriteString(persona)
		b.WriteString("\n\n")
	}

	b.WriteString("# STYLE\n")
	b.WriteString("- Write like a person typing quickly on a phone: lowercase, short bubbles, no emojis.\n")
	b.WriteString("- Send 2 to 4 short messages per turn in the `messages` array. At most one question per turn.\n")
	b.WriteString("- React to what the user said now. Do not repeat earlier sentences.\n\n")

	b.WriteString("# CONTEXT\n")
	fmt.Fprintf(&b, "- Local time: %s (%s).\n", now.In(brazilZone).Format("15:04"), periodOfDay(now))
	if req.City != "" {
		fmt.Fprintf(&b, "- The user said they live in %s. If asked where you live, say you are from %s. Never claim the user's city.\n", req.City, req.NeighborCity)
	} else {
		b.WriteString("- The user's city is unknown. If asked where you live, first ask where they are from.\n")
	}
	fmt.Fprintf(&b, "- Total already paid: R$ %.2f.\n", req.TotalPaid)
	fmt.Fprintf(&b, "- Current lead score: %s.\n", formatScore(req.Score))
	fmt.Fprintf(&b, "- Current funnel stage: %s.\n", req.Stage.OrWelcome())
	if req.MinutesSinceOffer != nil {
		fmt.Fprintf(&b, "- Minutes since the last offer (media or payment code): %d.\n", *req.MinutesSinceOffer)
	} else {
		b.WriteString("- Nothing was offered yet.\n")
	}
	b.WriteString("\n")

	if v := strings.TrimSpace(req.VariantContent); v != "" {
		b.WriteString("# STAGE GUIDANCE\n")
		b.WriteString(v)
		b.WriteString("\n\n")
	}

	b.WriteString("# FUNNEL\n")
	b.WriteString("Stages in order: ")
	for i, stage := range domain.Stages() {
		if i > 0 {
			b.WriteString(" > ")
		}
		b.WriteString(string(stage))
	}
	b.WriteString(".\n")
	b.WriteString("- Always return the stage you are in after this turn in `current_state`.\n")
	b.WriteString("- Sending a teaser photo moves to TRIGGER_PHASE, a preview to PREVIEW, a price to NEGOTIATION.\n")
	b.WriteString("- If the user wants to pay, use action generate_pix_payment with payment_details. If they say they paid, use check_payment_status.\n")
	b.WriteString("- Follow the user's lead. The funnel is a map, not a script.\n\n")

	b.WriteString("# PREVIEW CATALOG\n")
	b.WriteString("Use action send_custom_preview with the exact preview_id of an entry below, or a fixed media action when none fits.\n")
	if catalog := FormatPreviewCatalog(req.Previews); catalog != "" {
		b.WriteString(catalog)
	} else {
		b.WriteString("NO PREVIEWS REGISTERED")
	}
	b.WriteString("\n\n")

	b.WriteString("# LEAD SCORE\n")
	b.WriteString("Return the full updated `lead_stats` vector (0-100 each) every turn.\n")
	b.WriteString("- lust rises with compliments, requests for photos and sexual talk; falls with refusals.\n")
	b.WriteString("- financial rises with signs of spending power or price questions; falls with price complaints.\n")
	b.WriteString("- affection and sentimental rise with loneliness, longing and personal stories; fall with curt or rude replies.\n")
	b.WriteString("- If the user sent audio, transcribe it exactly in `audio_transcription`.\n")

	if len(req.Annotations) > 0 {
		b.WriteString("\n# NOTES FOR THIS TURN\n")
		for _, note := range req.Annotations {
			fmt.Fprintf(&b, "- %s\n", note)
		}
	}

	b.WriteString("\nRESPOND ONLY WITH JSON.")
	return b.String()
}
