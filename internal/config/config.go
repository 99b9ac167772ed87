package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.pigeon/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// ServerURL is the base URL of the HTTP API (https://host).
	ServerURL string `toml:"server_url"`
	// WebsocketURL is the realtime endpoint (wss://host/ws). When empty it
	// is derived from ServerURL by the daemon.
	WebsocketURL string `toml:"websocket_url"`
	// Username identifies the local user; inbound message senders are
	// normalized against it.
	Username string `toml:"username"`
	// SendReadReceipts gates outbound mark_read frames. Messages are still
	// marked read locally when disabled.
	SendReadReceipts bool `toml:"send_read_receipts"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
