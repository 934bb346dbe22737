package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	rc := cfg.Realtime()
	def := realtime.DefaultConfig()
	assert.Equal(t, def.ServerURL, rc.ServerURL)
	assert.Equal(t, def.RelayURL, rc.RelayURL)
	assert.Equal(t, realtime.ModeFormCreation, rc.Mode)
	assert.True(t, rc.AutoStartRecording)
	assert.Equal(t, 10*time.Second, rc.HandshakeTimeout)
	assert.Equal(t, 24000, rc.SampleRate)
	assert.Equal(t, def.EchoCorrelation, rc.EchoCorrelation)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("RELAY_HOST", "relay.example.com")

	path := writeConfig(t, `
server:
  url: https://api.example.com
  relay_url: wss://${RELAY_HOST}/ws
session:
  mode: form_filling
  auto_start: false
  handshake_timeout: 3s
  questions:
    - id: name
      label: What is your name?
audio:
  local_barge_in: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	rc := cfg.Realtime()
	assert.Equal(t, "wss://relay.example.com/ws", rc.RelayURL)
	assert.Equal(t, realtime.ModeFormFilling, rc.Mode)
	assert.False(t, rc.AutoStartRecording)
	assert.Equal(t, 3*time.Second, rc.HandshakeTimeout)
	assert.True(t, rc.LocalBargeIn)
	require.Len(t, rc.Questions, 1)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("LOKUTOR_RELAY_URL", "ws://override/ws")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeConfig(t, "server:\n  relay_url: ws://file/ws\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://override/ws", cfg.Server.RelayURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "session: [not, a, map"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "session:\n  handshake_timeout: soon\n"))
	assert.Error(t, err)
}
