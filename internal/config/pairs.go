package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ForwardMode is a two-character mode string; the first position enables
// QQ→Telegram, the second Telegram→QQ. "11" forwards both directions.
type ForwardMode string

// QQToTG reports whether the QQ→Telegram direction is enabled.
func (m ForwardMode) QQToTG() bool {
	return len(m) > 0 && m[0] == '1'
}

// TGToQQ reports whether the Telegram→QQ direction is enabled.
func (m ForwardMode) TGToQQ() bool {
	return len(m) > 1 && m[1] == '1'
}

// Pair associates one QQ room with one Telegram chat (optionally a specific
// thread) plus the per-pair forwarding settings.
type Pair struct {
	QQRoomID   int64       `yaml:"qq_room_id"`
	TGChatID   int64       `yaml:"tg_chat_id"`
	TGThreadID int         `yaml:"tg_thread_id,omitempty"`
	Mode       ForwardMode `yaml:"mode"`

	// RichHeader renders the sender identity as a link-preview-backed
	// label instead of plain inline text.
	RichHeader bool `yaml:"rich_header,omitempty"`

	// Filter is an optional regex; matching content is not forwarded.
	// A malformed pattern disables the filter, it never blocks forwarding.
	Filter string `yaml:"filter,omitempty"`

	// Blocklist drops messages from these sender ids.
	Blocklist []string `yaml:"blocklist,omitempty"`

	// TTLSeconds marks forwarded photos ephemeral when supported.
	TTLSeconds int `yaml:"ttl_seconds,omitempty"`
}

// PairsFile is the on-disk shape of the forwarding configuration.
type PairsFile struct {
	Pairs []Pair `yaml:"pairs"`
}

// LoadPairs reads the forwarding pairs from a YAML file.
func LoadPairs(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}

	var f PairsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pairs file: %w", err)
	}

	for i := range f.Pairs {
		if f.Pairs[i].Mode == "" {
			f.Pairs[i].Mode = "11"
		}
	}

	return f.Pairs, nil
}
