package appers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageErrorWrapping(t *testing.T) {
	base := errors.New("connection refused")
	err := NewStorageError("insert event", base)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "insert event", se.Op)
	assert.ErrorIs(t, err, base)

	// повторная обертка не плодит вложенность
	again := NewStorageError("emit", fmt.Errorf("tx: %w", err))
	require.True(t, errors.As(again, &se))
	assert.Equal(t, "insert event", se.Op)

	assert.NoError(t, NewStorageError("noop", nil))
}

func TestDeliveryErrorMessages(t *testing.T) {
	assert.Equal(t, "destination responded with status 500", (&DeliveryError{StatusCode: 500}).Error())
	assert.Contains(t, (&DeliveryError{Timeout: true, Err: context.DeadlineExceeded}).Error(), "timed out")
	assert.ErrorIs(t, &DeliveryError{Err: context.DeadlineExceeded}, context.DeadlineExceeded)
}

func TestSanitizeError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("get: %w", ErrEventNotFound), http.StatusNotFound},
		{"conflict", ErrRequeueNotAllowed, http.StatusConflict},
		{"validation", NewValidationError("x.y", "field 'a' is required"), http.StatusUnprocessableEntity},
		{"storage", NewStorageError("list", errors.New("boom")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return SanitizeError(c, tc.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			var m map[string]any
			require.NoError(t, json.Unmarshal(body, &m))
			assert.NotEmpty(t, m["message"])
			if tc.status == http.StatusServiceUnavailable {
				assert.NotContains(t, string(body), "boom")
			}
		})
	}
}
