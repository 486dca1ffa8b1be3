package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	// Validate - singleton экземпляр валидатора для переиспользования
	Validate *validator.Validate

	// whatsapp.send.text, contact.created, message_received ...
	reEventType = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)
)

const (
	maxEventTypeLen      = 100
	maxIdempotencyKeyLen = 255
)

func init() {
	Validate = validator.New()

	// в ошибках - имена полей из json, как их видит клиент
	Validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Регистрируем кастомные валидаторы
	_ = Validate.RegisterValidation("event_type", validateEventType)
	_ = Validate.RegisterValidation("idempotency_key", validateIdempotencyKey)
}

// validateEventType проверяет формат тега типа события
func validateEventType(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return len(s) <= maxEventTypeLen && reEventType.MatchString(s)
}

// validateIdempotencyKey: 1..255 символов, без управляющих символов и пробелов по краям
func validateIdempotencyKey(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > maxIdempotencyKeyLen {
		return false
	}
	for i, r := range s {
		if unicode.IsControl(r) {
			return false
		}
		if (i == 0 || i == len(s)-1) && unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Details - ошибки валидации структуры в виде списка сообщений для клиента
func Details(err error) []string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(errs))
	for _, fe := range errs {
		out = append(out, FieldMessage(fe.Field(), fe))
	}
	return out
}

func FieldMessage(field string, e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", field)
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", field, e.Param())
	case "len":
		return fmt.Sprintf("field '%s' must have length %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of [%s]", field, e.Param())
	case "numeric":
		return fmt.Sprintf("field '%s' must be numeric", field)
	case "event_type":
		return fmt.Sprintf("field '%s' must be a lowercase dotted name up to %d chars", field, maxEventTypeLen)
	case "idempotency_key":
		return fmt.Sprintf("field '%s' must be 1..%d printable chars without surrounding spaces", field, maxIdempotencyKeyLen)
	default:
		return fmt.Sprintf("field '%s' failed rule '%s'", field, e.Tag())
	}
}
