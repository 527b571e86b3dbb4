package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageCarriesContext(t *testing.T) {
	err := NewStore("read snapshot", io.ErrUnexpectedEOF).
		WithSite("nexus").
		WithURL("https://mods.example/list").
		WithTier("exact")

	msg := err.Error()
	assert.Contains(t, msg, "[store]")
	assert.Contains(t, msg, "site=nexus")
	assert.Contains(t, msg, "url=https://mods.example/list")
	assert.Contains(t, msg, "tier=exact")
	assert.Contains(t, msg, "unexpected EOF")
}

func TestErrorWithoutCause(t *testing.T) {
	err := NewValidation("empty url")
	assert.Equal(t, "[validation]: empty url", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestIsType(t *testing.T) {
	fetchErr := NewFetch("https://a.example", "timeout", io.EOF)
	wrapped := fmt.Errorf("check site: %w", fetchErr)

	assert.True(t, IsType(wrapped, ErrorTypeFetch))
	assert.False(t, IsType(wrapped, ErrorTypeConfig))
	assert.True(t, stderrors.Is(wrapped, io.EOF))

	nested := NewStore("write", NewConfig("bad selector", nil))
	assert.True(t, IsType(nested, ErrorTypeStore))
	assert.True(t, IsType(nested, ErrorTypeConfig))

	assert.False(t, IsType(io.EOF, ErrorTypeFetch))
	assert.False(t, IsType(nil, ErrorTypeFetch))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, NewFetch("u", "x", nil).IsRetryable())
	assert.True(t, NewStore("x", nil).IsRetryable())
	assert.False(t, NewConfig("x", nil).IsRetryable())
	assert.False(t, NewRateLimit("u", time.Minute).IsRetryable())
	assert.False(t, NewFetch("u", "resolve page", NewRateLimit("u", time.Minute)).IsRetryable(),
		"a wrapped rate limit is not retried")
	assert.False(t, NewValidation("empty url").IsRetryable())
}
