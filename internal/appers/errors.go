package appers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type ErrorResp struct {
	StatusCode int    `json:"statusCode,omitempty"`
	StatusDesc string `json:"statusDesc,omitempty"`
}

func (e ErrorResp) Error() string {
	return e.StatusDesc
}

var (
	ErrEventNotFound = ErrorResp{
		http.StatusNotFound,
		"integration event not found",
	}
	// ErrStatusConflict - условный апдейт не применился: событие уже в другом статусе
	// или захвачено другим воркером
	ErrStatusConflict = ErrorResp{
		http.StatusConflict,
		"integration event status changed concurrently",
	}
	ErrRequeueNotAllowed = ErrorResp{
		http.StatusConflict,
		"only permanently failed events can be requeued",
	}
	ErrTenantRequired = ErrorResp{
		http.StatusUnauthorized,
		"tenant is not resolved",
	}
	ErrRateLimited = ErrorResp{
		http.StatusTooManyRequests,
		"rate limit exceeded",
	}
	ErrInvalidCorrelationID = ErrorResp{
		http.StatusBadRequest,
		"correlation_id must be a UUID",
	}
)

// ErrRetriesExhausted - терминальный отказ доставки, дальше только ручной requeue
var ErrRetriesExhausted = errors.New("retries exhausted")

// ValidationError - событие отклонено на входе и не попало в очередь
type ValidationError struct {
	EventType string
	Details   []string
}

func NewValidationError(eventType string, details ...string) *ValidationError {
	return &ValidationError{EventType: eventType, Details: details}
}

func (e *ValidationError) Error() string {
	if e.EventType == "" {
		return "validation failed: " + strings.Join(e.Details, "; ")
	}
	return fmt.Sprintf("validation failed for %q: %s", e.EventType, strings.Join(e.Details, "; "))
}

// StorageError - любая ошибка чтения/записи хранилища событий.
// Вызывающий может безопасно повторить операцию.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// DeliveryError - неуспешная попытка доставки (не 2xx, таймаут, сетевая ошибка)
type DeliveryError struct {
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("delivery timed out: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("destination responded with status %d", e.StatusCode)
	default:
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func SanitizeError(c *fiber.Ctx, err error) error {
	var (
		errResp    ErrorResp
		validation *ValidationError
		storage    *StorageError
	)

	switch {
	case errors.As(err, &errResp):
		return c.Status(errResp.StatusCode).JSON(fiber.Map{
			"message": errResp.StatusDesc,
		})
	case errors.As(err, &validation):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "validation failed",
			"details": validation.Details,
		})
	case errors.As(err, &storage):
		// детали хранилища наружу не отдаем
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"message": "event store unavailable, retry later",
		})
	default:
		return NewErr(c, http.StatusInternalServerError, err)
	}
}

func NewErr(ctx *fiber.Ctx, status int, err error) error {
	return ctx.Status(status).JSON(fiber.Map{
		"message": err.Error(),
	})
}
