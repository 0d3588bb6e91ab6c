package domain

import "strings"

// Action is the side effect the reply generator asked for. The set of
// implementations is closed: only this package can add one.
type Action interface {
	// Tag is the wire name used by the reply generator.
	Tag() string
	sealed()
}

// MediaTag names an entry of the fixed media catalog.
type MediaTag string

const (
	MediaShowerPhoto      MediaTag = "send_shower_photo"
	MediaLingeriePhoto    MediaTag = "send_lingerie_photo"
	MediaWetFingerPhoto   MediaTag = "send_wet_finger_photo"
	MediaAssPhotoPreview  MediaTag = "send_ass_photo_preview"
	MediaVideoPreview     MediaTag = "send_video_preview"
	MediaHotVideoPreview  MediaTag = "send_hot_video_preview"
	TagNone                        = "none"
	TagSendCustomPreview           = "send_custom_preview"
	TagCreatePayment               = "generate_pix_payment"
	TagCheckPaymentStatus          = "check_payment_status"
)

// FixedMediaTags lists the catalog tags in a stable order.
var FixedMediaTags = []MediaTag{
	MediaShowerPhoto,
	MediaLingeriePhoto,
	MediaWetFingerPhoto,
	MediaAssPhotoPreview,
	MediaVideoPreview,
	MediaHotVideoPreview,
}

// NoAction means the turn only sends text.
type NoAction struct{}

// SendMedia delivers an asset from the fixed catalog.
type SendMedia struct {
	Asset MediaTag
}

// SendCustomPreview delivers an asset from the dynamic preview catalog.
type SendCustomPreview struct {
	PreviewID string
}

// CreatePayment creates (or resends) a payment code. Price is nil when the
// generator did not state one.
type CreatePayment struct {
	Price       *float64
	Description string
}

// CheckPaymentStatus verifies the most recent payment with the provider.
type CheckPaymentStatus struct{}

func (NoAction) Tag() string           { return TagNone }
func (a SendMedia) Tag() string        { return string(a.Asset) }
func (SendCustomPreview) Tag() string  { return TagSendCustomPreview }
func (CreatePayment) Tag() string      { return TagCreatePayment }
func (CheckPaymentStatus) Tag() string { return TagCheckPaymentStatus }

func (NoAction) sealed()           {}
func (SendMedia) sealed()          {}
func (SendCustomPreview) sealed()  {}
func (CreatePayment) sealed()      {}
func (CheckPaymentStatus) sealed() {}

// ActionTags lists every tag the generator may return.
func ActionTags() []string {
	tags := []string{TagNone}
	for _, tag := range FixedMediaTags {
		tags = append(tags, string(tag))
	}
	return append(tags, TagSendCustomPreview, TagCreatePayment, TagCheckPaymentStatus)
}

// PaymentDetails are the optional payment parameters attached to a reply.
type PaymentDetails struct {
	Value       *float64 `json:"value,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ParseAction builds the action for a generator tag. Unknown tags map to
// NoAction with ok=false so callers can log them. A custom preview without an
// id degrades to NoAction as there is nothing to send.
func ParseAction(tag string, previewID string, payment *PaymentDetails) (Action, bool) {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	switch normalized {
	case "", TagNone:
		return NoAction{}, true
	case TagSendCustomPreview:
		id := strings.TrimSpace(previewID)
		if id == "" {
			return NoAction{}, false
		}
		return SendCustomPreview{PreviewID: id}, true
	case TagCreatePayment:
		action := CreatePayment{}
		if payment != nil {
			if payment.Value != nil && *payment.Value > 0 {
				price := *payment.Value
				action.Price = &price
			}
			action.Description = strings.TrimSpace(payment.Description)
		}
		return action, true
	case TagCheckPaymentStatus:
		return CheckPaymentStatus{}, true
	}

	for _, media := range FixedMediaTags {
		if string(media) == normalized {
			return SendMedia{Asset: media}, true
		}
	}
	return NoAction{}, false
}
