package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", false)
	logger.Debug("hello", "stage", "kyc_pending")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "kyc_pending", line["stage"])
}

func TestNewWithWriterInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "chatty", true)
	logger.Debug("dropped")
	assert.Zero(t, buf.Len())

	logger.Info("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestMaskContact(t *testing.T) {
	assert.Equal(t, "******1111", MaskContact("9990001111"))
	assert.Equal(t, "a***@example.com", MaskContact("alice@example.com"))
	assert.Equal(t, "****", MaskContact("123"))
}
