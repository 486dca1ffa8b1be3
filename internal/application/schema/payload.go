package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"integrations/internal/appers"
	"integrations/pkg/validator"

	playgroundvalidator "github.com/go-playground/validator/v10"
)

// Payload - тело события, прошедшее проверку по реестру. Собрать его можно
// только через Registry.Validate, поэтому дальше по конвейеру форма не перепроверяется.
type Payload struct {
	eventType string
	raw       json.RawMessage
	fields    map[string]any
}

func (p Payload) EventType() string { return p.eventType }

// Raw - компактный JSON
func (p Payload) Raw() json.RawMessage { return p.raw }

func (p Payload) Field(name string) (any, bool) {
	v, ok := p.fields[name]
	return v, ok
}

func (p Payload) String(name string) string {
	s, _ := p.fields[name].(string)
	return s
}

func (r *Registry) Validate(eventType string, raw json.RawMessage) (Payload, error) {
	def, ok := r.Lookup(eventType)
	if !ok {
		return Payload{}, appers.NewValidationError(eventType, fmt.Sprintf("unknown event_type %q", eventType))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Payload{}, appers.NewValidationError(eventType, "payload must be a JSON object")
	}
	if dec.More() {
		return Payload{}, appers.NewValidationError(eventType, "payload must be a single JSON object")
	}

	var details []string
	declared := make(map[string]struct{}, len(def.Fields))
	for _, f := range def.Fields {
		declared[f.Name] = struct{}{}
		if msg := checkField(f, fields); msg != "" {
			details = append(details, msg)
		}
	}

	if def.Strict {
		var unknown []string
		for k := range fields {
			if _, ok := declared[k]; !ok {
				unknown = append(unknown, k)
			}
		}
		sort.Strings(unknown)
		for _, k := range unknown {
			details = append(details, fmt.Sprintf("field '%s' is not allowed", k))
		}
	}

	if len(details) > 0 {
		return Payload{}, appers.NewValidationError(eventType, details...)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Payload{}, appers.NewValidationError(eventType, "payload must be a JSON object")
	}

	return Payload{eventType: eventType, raw: buf.Bytes(), fields: fields}, nil
}

func checkField(f Field, fields map[string]any) string {
	v, present := fields[f.Name]
	if !present || v == nil {
		if hasRequired(f.Rules) {
			return fmt.Sprintf("field '%s' is required", f.Name)
		}
		return ""
	}

	value, ok := typed(f.Type, v)
	if !ok {
		return fmt.Sprintf("field '%s' must be of type %s", f.Name, f.Type)
	}
	if f.Rules == "" {
		return ""
	}

	if err := validator.Validate.Var(value, f.Rules); err != nil {
		return formatRuleError(f.Name, err)
	}
	return ""
}

func typed(t FieldType, v any) (any, bool) {
	switch t {
	case FieldString:
		s, ok := v.(string)
		return s, ok
	case FieldNumber:
		n, ok := v.(json.Number)
		if !ok {
			return nil, false
		}
		f, err := n.Float64()
		return f, err == nil
	case FieldBoolean:
		b, ok := v.(bool)
		return b, ok
	case FieldObject:
		m, ok := v.(map[string]any)
		return m, ok
	case FieldArray:
		a, ok := v.([]any)
		return a, ok
	}
	return nil, false
}

func hasRequired(rules string) bool {
	for _, tag := range strings.Split(rules, ",") {
		if tag == "required" {
			return true
		}
	}
	return false
}

// formatRuleError - ошибки валидации в понятный клиенту вид
func formatRuleError(field string, err error) string {
	errs, ok := err.(playgroundvalidator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return fmt.Sprintf("field '%s' is invalid: %v", field, err)
	}
	return validator.FieldMessage(field, errs[0])
}
