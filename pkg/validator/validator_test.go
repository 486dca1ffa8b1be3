package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventTypeTag(t *testing.T) {
	for _, ok := range []string{"whatsapp.send.text", "contact.created", "message_received", "a1-b2"} {
		assert.NoError(t, Validate.Var(ok, "event_type"), ok)
	}
	for _, bad := range []string{"", "WhatsApp.Send", ".leading", "trailing.", "two..dots", "with space", strings.Repeat("a", 101)} {
		assert.Error(t, Validate.Var(bad, "event_type"), bad)
	}
}

func TestIdempotencyKeyTag(t *testing.T) {
	assert.NoError(t, Validate.Var("abc", "idempotency_key"))
	assert.NoError(t, Validate.Var("order 42/retry", "idempotency_key"))

	assert.Error(t, Validate.Var("", "idempotency_key"))
	assert.Error(t, Validate.Var(" abc", "idempotency_key"))
	assert.Error(t, Validate.Var("a\nb", "idempotency_key"))
	assert.Error(t, Validate.Var(strings.Repeat("k", 256), "idempotency_key"))
}

func TestDetailsUseJSONNames(t *testing.T) {
	type req struct {
		EventType string `json:"event_type" validate:"required,event_type"`
		Source    string `json:"source,omitempty" validate:"omitempty,max=3"`
	}

	details := Details(Validate.Struct(req{Source: "toolong"}))
	assert.Contains(t, details, "field 'event_type' is required")
	assert.Contains(t, details, "field 'source' must be at most 3")
}
