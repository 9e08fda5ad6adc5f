package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:3001", cfg.OneBotWSURL)
	assert.Equal(t, "./data/napgram.db", cfg.DatabasePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"tgs_to_gif", "{in}", "--output", "{out}"}, cfg.TGSEncoderArgv)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ONEBOT_WS_URL", "ws://gateway:3001")
	t.Setenv("TG_API_ID", "12345")
	t.Setenv("IMAGE_BUDGET", "not a number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://gateway:3001", cfg.OneBotWSURL)
	assert.Equal(t, 12345, cfg.TGApiID)
	assert.Equal(t, 0, cfg.ImageBudget, "unparseable int keeps the default")
}

func TestSplitArgv(t *testing.T) {
	assert.Equal(t, []string{"tgs_to_gif", "{in}", "--output", "{out}"},
		splitArgv("tgs_to_gif {in} --output {out}"))
	assert.Equal(t, []string{"a", "b"}, splitArgv("  a   b  "))
	assert.Nil(t, splitArgv(""))
}

func TestForwardMode(t *testing.T) {
	tests := []struct {
		mode   ForwardMode
		qqToTG bool
		tgToQQ bool
	}{
		{"11", true, true},
		{"10", true, false},
		{"01", false, true},
		{"00", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode)+"_", func(t *testing.T) {
			assert.Equal(t, tt.qqToTG, tt.mode.QQToTG())
			assert.Equal(t, tt.tgToQQ, tt.mode.TGToQQ())
		})
	}
}

func TestLoadPairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pairs:
  - qq_room_id: 100
    tg_chat_id: -100200
    mode: "10"
    rich_header: true
    filter: "(?i)spam"
    blocklist: ["42"]
    ttl_seconds: 60
  - qq_room_id: -55
    tg_chat_id: 555
`), 0o644))

	pairs, err := LoadPairs(path)
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, int64(100), pairs[0].QQRoomID)
	assert.Equal(t, ForwardMode("10"), pairs[0].Mode)
	assert.True(t, pairs[0].RichHeader)
	assert.Equal(t, []string{"42"}, pairs[0].Blocklist)
	assert.Equal(t, 60, pairs[0].TTLSeconds)

	// omitted mode defaults to both directions
	assert.Equal(t, ForwardMode("11"), pairs[1].Mode)
}

func TestLoadPairs_MissingFile(t *testing.T) {
	_, err := LoadPairs(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
