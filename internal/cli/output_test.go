package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error(ErrCodeRunFailed, "step failed", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E008", resp.Error.Code)
	assert.Equal(t, "step failed", resp.Error.Message)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("E001", "plan failed", map[string]string{"file": "p.yaml"}))
	assert.Contains(t, buf.String(), "Error [E001]: plan failed")
	assert.NotContains(t, buf.String(), "Details:", "details only when verbose")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error("E001", "plan failed", map[string]string{"file": "p.yaml"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Emit(t *testing.T) {
	text := func(w io.Writer) error {
		_, err := fmt.Fprintln(w, "rendered")
		return err
	}

	buf := &bytes.Buffer{}
	require.NoError(t, (&OutputFormatter{Format: "text", Writer: buf}).Emit(42, text))
	assert.Equal(t, "rendered\n", buf.String())

	buf.Reset()
	require.NoError(t, (&OutputFormatter{Format: "json", Writer: buf}).Emit(42, text))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, float64(42), resp.Data)
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Fail("E008", "boom", map[string]int{"steps": 2}, nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "boom", resp.Error.Message)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: tt.verbose}

			formatter.VerboseLog("Processing %s", "plan.yaml")

			assert.Empty(t, out.String(), "diagnostics never go to the JSON stream")
			if tt.wantLog {
				assert.Contains(t, diag.String(), "Processing plan.yaml")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "run failed", errors.New("boom")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, "outer: run failed: boom", wrapped.Error())
}
