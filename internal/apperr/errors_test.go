package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validation("narrative", "empty"), http.StatusBadRequest},
		{"precondition", Precondition("abstained"), http.StatusConflict},
		{"not found", NotFound("complaint", "C-9"), http.StatusNotFound},
		{"contract", ServiceContract("classifier", "label", nil), http.StatusBadGateway},
		{"transient", Transient("generator", 503, errors.New("down")), http.StatusServiceUnavailable},
		{"configuration", Configuration("labels", "missing"), http.StatusInternalServerError},
		{"wrapped transient", fmt.Errorf("classify: %w", Transient("classifier", 0, errors.New("timeout"))), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient("classifier", 0, cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsTransient(err))
	assert.False(t, IsContract(err))
}

func TestFromStatus(t *testing.T) {
	assert.True(t, IsTransient(FromStatus("generator", http.StatusTooManyRequests, "slow down")))
	assert.True(t, IsTransient(FromStatus("generator", http.StatusBadGateway, "")))
	assert.True(t, IsTransient(FromStatus("generator", http.StatusRequestTimeout, "")))

	err := FromStatus("generator", http.StatusUnauthorized, "invalid api key")
	var perm *PermanentServiceError
	assert.ErrorAs(t, err, &perm)
	assert.Equal(t, http.StatusUnauthorized, perm.StatusCode)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestFromStatusTruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", 511) + "ошибка"
	err := FromStatus("generator", http.StatusBadRequest, body)

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, strings.Repeat("a", 511)+"..."), msg[len(msg)-10:])
	assert.Equal(t, "ab...", truncate("abцd", 3))
}
