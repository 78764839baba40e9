package types

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeHTTPStatus(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationBadDocument, http.StatusBadRequest},
		{ErrCodeAuthKeyMissing, http.StatusUnauthorized},
		{ErrCodeAuthKeyInvalid, http.StatusUnauthorized},
		{ErrCodeNotFoundDocument, http.StatusNotFound},
		{ErrCodeConflictExists, http.StatusConflict},
		{ErrCodeUpstreamActuator, http.StatusBadGateway},
		{ErrCodeInternalStore, http.StatusInternalServerError},
		{ErrCodeModelLoad, http.StatusInternalServerError},
		{ErrorCode("something_new"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.code.HTTPStatus(), "code %s", tc.code)
	}
}

func TestAppErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAppError(ErrCodeInternalStore, "query failed", cause)

	assert.Equal(t, "internal_store_error: query failed", err.Error())
	assert.True(t, errors.Is(err, cause))

	var appErr *AppError
	assert.True(t, errors.As(error(err), &appErr))
	assert.Equal(t, ErrCodeInternalStore, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus())
}
