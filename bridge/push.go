package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// Default notification target when a payload carries no explicit URL.
const defaultClickURL = "/"

// PushAction is one button on a rendered notification.
type PushAction struct {
	Action string `json:"action" validate:"required,oneof=open dismiss"`
	Title  string `json:"title" validate:"required,max=64"`
}

// PushPayload is the closed notification schema accepted from the push
// endpoint. Unknown fields are rejected, text fields are length-capped and
// stripped of markup before the payload is broadcast.
type PushPayload struct {
	Title              string       `json:"title" validate:"required,max=256"`
	Body               string       `json:"body" validate:"required,max=2048"`
	URL                string       `json:"url,omitempty" validate:"omitempty,uri"`
	Icon               string       `json:"icon,omitempty" validate:"omitempty,uri"`
	Badge              string       `json:"badge,omitempty" validate:"omitempty,uri"`
	Tag                string       `json:"tag,omitempty" validate:"omitempty,max=64"`
	RequireInteraction bool         `json:"requireInteraction,omitempty"`
	Actions            []PushAction `json:"actions,omitempty" validate:"max=4,dive"`
}

type pushValidator struct {
	validate *validator.Validate
	sanitize *bluemonday.Policy
}

func newPushValidator() *pushValidator {
	return &pushValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		sanitize: bluemonday.StrictPolicy(),
	}
}

// parse decodes, validates and sanitizes one raw push payload.
func (p *pushValidator) parse(raw []byte) (*PushPayload, error) {
	var payload PushPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ErrInvalidPush{Reason: "malformed json", Err: err}
	}

	if err := p.validate.Struct(&payload); err != nil {
		return nil, &ErrInvalidPush{Reason: "schema violation", Err: err}
	}

	payload.Title = p.sanitize.Sanitize(payload.Title)
	payload.Body = p.sanitize.Sanitize(payload.Body)
	for i := range payload.Actions {
		payload.Actions[i].Title = p.sanitize.Sanitize(payload.Actions[i].Title)
	}

	if payload.URL == "" {
		payload.URL = defaultClickURL
	}
	if len(payload.Actions) == 0 {
		payload.Actions = []PushAction{
			{Action: "open", Title: "Open"},
			{Action: "dismiss", Title: "Dismiss"},
		}
	}
	return &payload, nil
}

// HandlePush validates an inbound push payload and broadcasts it as a
// notification event. The sanitized payload is returned so callers can
// render it.
func (b *Bridge) HandlePush(raw []byte) (*PushPayload, error) {
	payload, err := b.push.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("bridge: push rejected: %w", err)
	}

	n := b.Broadcast(Event{Type: EventNotification, Payload: payload})
	b.logger.Info("bridge: notification broadcast",
		"title", payload.Title, "tag", payload.Tag, "notified", n)
	return payload, nil
}
