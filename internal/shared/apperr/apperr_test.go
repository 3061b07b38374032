package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("op", "missing %s", "language"), KindValidation},
		{"not found", NotFound("op", "session %s", "ABC123"), KindNotFound},
		{"unsupported", UnsupportedLanguage("op", "cobol"), KindUnsupportedLanguage},
		{"timeout", Timeout("op", "after %s", "5s"), KindTimeout},
		{"infra", Infra("op", errors.New("daemon down"), "sandbox unavailable"), KindInfra},
		{"wrapped", fmt.Errorf("outer: %w", NotFound("op", "x")), KindNotFound},
		{"plain", errors.New("boom"), KindInternal},
		{"nil", nil, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("join: %w", NotFound("session.join", "session %q not found", "ZZZZZZ"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
}

func TestMessageHidesInternalDetails(t *testing.T) {
	assert.Equal(t, "internal error", Message(Internal("op", errors.New("nil pointer in handler"))))
	assert.Equal(t, "internal error", Message(errors.New("raw")))
	assert.Equal(t, `unsupported language "cobol"`, Message(UnsupportedLanguage("op", "cobol")))
}

func TestErrorString(t *testing.T) {
	err := Infra("sandbox.provision", errors.New("connection refused"), "container engine unavailable")
	assert.Equal(t, "sandbox.provision: container engine unavailable: connection refused", err.Error())
	assert.Equal(t, "infra", err.Kind.String())
	assert.ErrorContains(t, errors.Unwrap(err), "connection refused")
}

func TestParseKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindInternal, KindValidation, KindNotFound, KindUnsupportedLanguage, KindTimeout, KindInfra} {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, KindInternal, ParseKind("bogus"))
}
