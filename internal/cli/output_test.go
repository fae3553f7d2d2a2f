package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(map[string]int{"media": 3}))
	assert.JSONEq(t, `{"status":"ok","data":{"media":3}}`, buf.String())

	buf.Reset()
	require.NoError(t, f.Error("E001", "boom", nil))
	assert.JSONEq(t, `{"status":"error","error":{"code":"E001","message":"boom"}}`, buf.String())
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Error("E001", "boom", "details"))
	assert.Contains(t, buf.String(), "Error [E001]: boom")
	assert.NotContains(t, buf.String(), "details", "details only shown in verbose mode")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad path", nil)))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := WrapExitError(ExitFailure, "outer", errors.New("inner"))
	assert.Equal(t, "outer: inner", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "inner")
}
