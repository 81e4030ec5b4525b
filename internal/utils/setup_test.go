package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupAgentConfigFillsAnswers(t *testing.T) {
	cfg := DefaultConfig()
	in := strings.NewReader("org-42\nhttps://queue.example.com\ntok\nAA:BB:CC:DD:EE:FF\n")
	var out bytes.Buffer

	require.NoError(t, SetupAgentConfig(cfg, in, &out))
	assert.Equal(t, "org-42", cfg.Agent.OrgID)
	assert.Equal(t, "https://queue.example.com", cfg.Agent.BaseURL)
	assert.Equal(t, "tok", cfg.Agent.AuthToken)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Agent.DeviceAddress)
	assert.Contains(t, out.String(), "Initial Setup")
}

func TestSetupAgentConfigKeepsCurrentOnEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.OrgID = "org-1"
	cfg.Agent.AuthToken = "old-secret"
	var out bytes.Buffer

	require.NoError(t, SetupAgentConfig(cfg, strings.NewReader("\nhttp://q\n\n/dev/rfcomm0"), &out))
	assert.Equal(t, "org-1", cfg.Agent.OrgID)
	assert.Equal(t, "http://q", cfg.Agent.BaseURL)
	assert.Equal(t, "old-secret", cfg.Agent.AuthToken)
	assert.Equal(t, "/dev/rfcomm0", cfg.Agent.DeviceAddress)
	assert.Contains(t, out.String(), "(default: org-1)")
	assert.NotContains(t, out.String(), "old-secret")
}
