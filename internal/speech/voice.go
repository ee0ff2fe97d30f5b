package speech

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type Voice struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	License string `json:"license"`
}

type voiceManifest struct {
	Voices []Voice `json:"voices"`
}

// VoiceManager resolves voice IDs against a JSON manifest. Relative voice
// paths are taken relative to the manifest's directory.
type VoiceManager struct {
	manifestPath string
	baseDir      string

	mu     sync.RWMutex
	voices []Voice
	byID   map[string]Voice
}

func NewVoiceManager(manifestPath string) (*VoiceManager, error) {
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read voice manifest: %w", err)
	}

	var manifest voiceManifest

	err = json.Unmarshal(data, &manifest)
	if err != nil {
		return nil, fmt.Errorf("decode voice manifest: %w", err)
	}

	mgr := emptyManager(manifestPath)
	for _, v := range manifest.Voices {
		if err := mgr.add(v); err != nil {
			return nil, err
		}
	}

	return mgr, nil
}

// LoadVoices reads the manifest at path, falling back to an empty manager
// bound to the same path when it is missing or invalid.
func LoadVoices(path string) (*VoiceManager, error) {
	mgr, err := NewVoiceManager(path)
	if err != nil {
		return emptyManager(path), err
	}
	return mgr, nil
}

func emptyManager(path string) *VoiceManager {
	return &VoiceManager{
		manifestPath: path,
		baseDir:      filepath.Dir(path),
		byID:         make(map[string]Voice),
	}
}

func (m *VoiceManager) add(v Voice) error {
	if v.ID == "" {
		return errors.New("voice manifest contains empty id")
	}

	if v.Path == "" {
		return fmt.Errorf("voice %q has empty path", v.ID)
	}

	if _, exists := m.byID[v.ID]; exists {
		return fmt.Errorf("duplicate voice id %q", v.ID)
	}

	m.voices = append(m.voices, v)
	m.byID[v.ID] = v

	return nil
}

func (m *VoiceManager) ListVoices() []Voice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Voice(nil), m.voices...)
}

func (m *VoiceManager) ResolvePath(id string) (string, error) {
	m.mu.RLock()
	v, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown voice id %q", id)
	}

	resolved := v.Path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(m.baseDir, resolved)
	}

	resolved = filepath.Clean(resolved)

	_, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("voice file for %q: %w", id, err)
	}

	return resolved, nil
}

// ResolveVoice returns the file path for a listed voice, or the name
// unchanged so the synthesis engine can interpret it as a built-in voice.
func (m *VoiceManager) ResolveVoice(name string) string {
	if m == nil || name == "" {
		return name
	}
	if p, err := m.ResolvePath(name); err == nil {
		return p
	}
	return name
}

// Register adds v and rewrites the manifest file.
func (m *VoiceManager) Register(v Voice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.add(v); err != nil {
		return err
	}

	data, err := json.MarshalIndent(voiceManifest{Voices: m.voices}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode voice manifest: %w", err)
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	if err := os.WriteFile(m.manifestPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write voice manifest: %w", err)
	}

	return nil
}
