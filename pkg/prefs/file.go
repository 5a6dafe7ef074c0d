package prefs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileStore keeps the record in a YAML file.
type FileStore struct {
	Path        string
	MaxProfiles int
}

var _ Store = (*FileStore)(nil)

// Load reads the record. A missing file yields an empty record.
func (s *FileStore) Load() (*Prefs, error) {
	p := New(s.MaxProfiles)

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read prefs file: %w", err)
	}

	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse prefs file: %w", err)
	}
	if err := p.Normalize(s.MaxProfiles); err != nil {
		return nil, err
	}
	return p, nil
}

// Save bumps the sequence number and writes the record.
func (s *FileStore) Save(p *Prefs) error {
	p.SequenceNumber++
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prefs: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write prefs file: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("failed to replace prefs file: %w", err)
	}
	return nil
}
