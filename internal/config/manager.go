package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Manager owns the live configuration. Readers call Get on every use so a
// reload or an admin settings update is picked up without restart.
type Manager struct {
	path string
	dev  bool

	mu   sync.RWMutex
	cfg  *Config
	subs []chan *Config

	writeMu sync.Mutex
}

func NewManager(path string, dev bool) *Manager {
	return &Manager{path: path, dev: dev}
}

func (m *Manager) Load() (*Config, error) {
	if m.path == "" {
		return nil, errors.New("config manager has no file")
	}
	cfg, err := LoadConfig(m.path, m.dev)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that receives each successfully reloaded
// config. Slow subscribers miss updates rather than block the watcher.
func (m *Manager) Subscribe(buffer int) <-chan *Config {
	ch := make(chan *Config, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) publish(cfg *Config) {
	m.mu.RLock()
	subs := append([]chan *Config{}, m.subs...)
	m.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
			// slow subscriber, drop
		}
	}
}

// UpdateCredentials rewrites bot.token and weather.api_key in the config
// file, leaving every other key (including ${VAR} references) as written,
// then reloads.
func (m *Manager) UpdateCredentials(botToken, weatherKey string) (*Config, error) {
	if botToken == "" || weatherKey == "" {
		return nil, errors.New("bot token and weather api key are required")
	}
	if m.path == "" {
		return nil, errors.New("config manager has no file")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("config root is not a mapping")
	}
	setScalar(root, botToken, "bot", "token")
	setScalar(root, weatherKey, "weather", "api_key")

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	_ = enc.Close()

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return nil, fmt.Errorf("replace config: %w", err)
	}

	cfg, err := m.Load()
	if err != nil {
		return nil, err
	}
	m.publish(cfg)
	return cfg, nil
}

// setScalar walks (creating as needed) the mapping path and sets the leaf.
func setScalar(node *yaml.Node, value string, path ...string) {
	for i, key := range path {
		var next *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == key {
				next = node.Content[j+1]
				break
			}
		}
		last := i == len(path)-1
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			if last {
				next = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str"}
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, next)
		}
		if last {
			next.Kind = yaml.ScalarNode
			next.Tag = "!!str"
			next.Style = yaml.DoubleQuotedStyle
			next.Value = value
			next.Content = nil
			return
		}
		if next.Kind != yaml.MappingNode {
			next.Kind = yaml.MappingNode
			next.Tag = "!!map"
			next.Value = ""
			next.Content = nil
		}
		node = next
	}
}

// Watch reloads the file on change and publishes the new config to
// subscribers. Invalid edits are logged and the previous config stays live.
func (m *Manager) Watch(ctx context.Context, logger *zerolog.Logger) error {
	if m.path == "" {
		return errors.New("config manager has no file")
	}
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	// debounce to avoid partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			cfg, err := m.Load()
			if err != nil {
				logger.Warn().Err(err).Msg("config reload rejected")
				return
			}
			logger.Info().Str("path", m.path).Msg("config reloaded")
			m.publish(cfg)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name == filepath.Join(dir, file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
