package schema

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"integrations/internal/appers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whatsappDefinition() Definition {
	return Definition{
		Type:        "whatsapp.send.text",
		Destination: "http://n8n.local/webhook/send",
		Strict:      true,
		Fields: []Field{
			{Name: "instanceName", Type: FieldString, Rules: "required,max=100"},
			{Name: "telefone", Type: FieldString, Rules: "required,numeric,min=10,max=15"},
			{Name: "mensagem", Type: FieldString, Rules: "required"},
		},
	}
}

func newRegistry(t *testing.T, defs ...Definition) *Registry {
	t.Helper()
	r, err := New(defs)
	require.NoError(t, err)
	return r
}

func validationDetails(t *testing.T, err error) []string {
	t.Helper()
	var ve *appers.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Details
}

func TestNewAppliesDefaults(t *testing.T) {
	r := newRegistry(t, whatsappDefinition())

	d, ok := r.Lookup("whatsapp.send.text")
	require.True(t, ok)
	assert.Equal(t, DefaultMaxRetries, d.MaxRetries)
	assert.Equal(t, DefaultTimeout, d.Timeout)
	assert.Equal(t, DefaultSource, d.Source)
	assert.Equal(t, 5*time.Second, d.Backoff.Initial)
	assert.Equal(t, 10*time.Minute, d.Backoff.Max)
	assert.Equal(t, 2.0, d.Backoff.Multiplier)
}

func TestNewRejectsBadDefinitions(t *testing.T) {
	cases := map[string]Definition{
		"bad type":        {Type: "Bad Type", Destination: "http://x"},
		"relative url":    {Type: "a.b", Destination: "/webhook"},
		"ftp url":         {Type: "a.b", Destination: "ftp://x/y"},
		"negative retry":  {Type: "a.b", Destination: "http://x", MaxRetries: -1},
		"unknown field":   {Type: "a.b", Destination: "http://x", Fields: []Field{{Name: "f", Type: "date"}}},
		"bad rule":        {Type: "a.b", Destination: "http://x", Fields: []Field{{Name: "f", Type: FieldString, Rules: "no_such_rule"}}},
		"duplicate field": {Type: "a.b", Destination: "http://x", Fields: []Field{{Name: "f", Type: FieldString}, {Name: "f", Type: FieldString}}},
		"backoff range":   {Type: "a.b", Destination: "http://x", Backoff: Backoff{Initial: time.Minute, Max: time.Second}},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New([]Definition{d})
			assert.Error(t, err)
		})
	}

	_, err := New(nil)
	assert.Error(t, err)

	_, err = New([]Definition{whatsappDefinition(), whatsappDefinition()})
	assert.Error(t, err)
}

func TestValidateAcceptsPayload(t *testing.T) {
	r := newRegistry(t, whatsappDefinition())

	p, err := r.Validate("whatsapp.send.text", json.RawMessage(`{ "instanceName": "i1", "telefone": "5511999999999", "mensagem": "oi" }`))
	require.NoError(t, err)
	assert.Equal(t, "whatsapp.send.text", p.EventType())
	assert.JSONEq(t, `{"instanceName":"i1","telefone":"5511999999999","mensagem":"oi"}`, string(p.Raw()))
	assert.NotContains(t, string(p.Raw()), " ")
	assert.Equal(t, "i1", p.String("instanceName"))
}

func TestValidateRejections(t *testing.T) {
	r := newRegistry(t, whatsappDefinition())

	_, err := r.Validate("unknown.type", json.RawMessage(`{}`))
	assert.Contains(t, validationDetails(t, err)[0], "unknown event_type")

	for _, raw := range []string{``, `null`, `[1,2]`, `"str"`, `{"a":1} {"b":2}`} {
		_, err = r.Validate("whatsapp.send.text", json.RawMessage(raw))
		assert.Len(t, validationDetails(t, err), 1, raw)
	}

	_, err = r.Validate("whatsapp.send.text", json.RawMessage(`{"instanceName":"i1","telefone":"55-11","mensagem":"","extra":true}`))
	details := validationDetails(t, err)
	assert.Contains(t, details, "field 'telefone' must be numeric")
	assert.Contains(t, details, "field 'mensagem' is required")
	assert.Contains(t, details, "field 'extra' is not allowed")

	_, err = r.Validate("whatsapp.send.text", json.RawMessage(`{"instanceName":1,"telefone":"5511999999999","mensagem":"oi"}`))
	assert.Equal(t, []string{"field 'instanceName' must be of type string"}, validationDetails(t, err))
}

func TestValidateNumbersAndOptionalFields(t *testing.T) {
	r := newRegistry(t, Definition{
		Type:        "order.paid",
		Destination: "https://hooks.example.com/paid",
		Fields: []Field{
			{Name: "amount", Type: FieldNumber, Rules: "required,gt=0"},
			{Name: "note", Type: FieldString, Rules: "omitempty,max=5"},
			{Name: "items", Type: FieldArray, Rules: "min=1"},
		},
	})

	_, err := r.Validate("order.paid", json.RawMessage(`{"amount": 10.5, "other": "kept"}`))
	assert.NoError(t, err)

	_, err = r.Validate("order.paid", json.RawMessage(`{"amount": 0}`))
	assert.Equal(t, []string{"field 'amount' failed rule 'gt'"}, validationDetails(t, err))

	_, err = r.Validate("order.paid", json.RawMessage(`{"amount": 1, "note": "too long", "items": []}`))
	details := validationDetails(t, err)
	assert.Contains(t, details, "field 'note' must be at most 5")
	assert.Contains(t, details, "field 'items' must be at least 1")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "event-types.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
eventTypes:
  - type: contact.created
    destination: http://localhost:5678/webhook/contact-created
    maxRetries: 4
    timeout: 3s
    secret: s3cr3t
    backoff:
      initial: 1s
      max: 1m
      multiplier: 3
    fields:
      - name: contactId
        type: string
        rules: required
`), 0o600))

	r, err := Load(path)
	require.NoError(t, err)

	d, ok := r.Lookup("contact.created")
	require.True(t, ok)
	assert.Equal(t, 4, d.MaxRetries)
	assert.Equal(t, 3*time.Second, d.Timeout)
	assert.Equal(t, time.Minute, d.Backoff.Max)
	assert.Equal(t, 3.0, d.Backoff.Multiplier)
	require.Len(t, d.Fields, 1)
	assert.Equal(t, "contactId", d.Fields[0].Name)

	desc := d.Describe()
	assert.True(t, desc.Signed)
	assert.Equal(t, "3s", desc.Timeout)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadBundledRegistry(t *testing.T) {
	r, err := Load("../../../resources/event-types.yaml")
	require.NoError(t, err)

	types := make([]string, 0)
	for _, d := range r.Definitions() {
		types = append(types, d.Type)
	}
	assert.Equal(t, []string{"contact.created", "conversation.transferred", "message.received", "whatsapp.send.text"}, types)
}

func TestBackoffNextWithinBounds(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 8 * time.Second, Multiplier: 2}
	for i := 0; i < 20; i++ {
		d := b.Next(3)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 4*time.Second)
		assert.Less(t, b.Next(10), 8*time.Second)
	}
}

func TestCheckLease(t *testing.T) {
	slow := whatsappDefinition()
	slow.Type = "report.export"
	slow.Timeout = 90 * time.Second
	r := newRegistry(t, whatsappDefinition(), slow)

	err := r.CheckLease(time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report.export")

	assert.Error(t, r.CheckLease(90*time.Second), "lease equal to timeout is not enough")
	assert.NoError(t, r.CheckLease(2*time.Minute))
}
