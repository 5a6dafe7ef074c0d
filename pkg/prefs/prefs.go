// Package prefs holds the persistent preferences record: the profile table and
// the allocator state, and the stores that keep it across restarts.
package prefs

import (
	"errors"
	"fmt"
)

// ErrTooManyProfiles is returned when a stored record has more slots than allowed.
var ErrTooManyProfiles = errors.New("prefs: too many profile slots")

// Profile is one slot of the profile table. A slot is unused when StartBlock
// is zero.
type Profile struct {
	Name            string `yaml:"name"`
	StartBlock      uint16 `yaml:"start_block"`
	TokenCount      uint16 `yaml:"token_count"`
	PeakTemperature uint16 `yaml:"peak_temperature"`
}

// InUse reports whether the slot holds a profile.
func (p Profile) InUse() bool {
	return p.StartBlock != 0
}

// Prefs is the persistent preferences record.
type Prefs struct {
	SequenceNumber       uint32    `yaml:"sequence_number"`
	NumProfiles          int       `yaml:"num_profiles"`
	LastUsedProfileBlock uint16    `yaml:"last_used_profile_block"`
	Profiles             []Profile `yaml:"profiles"`
}

// New returns an empty record with maxProfiles unused slots.
func New(maxProfiles int) *Prefs {
	return &Prefs{Profiles: make([]Profile, maxProfiles)}
}

// Clone returns a deep copy of p.
func (p *Prefs) Clone() *Prefs {
	c := *p
	c.Profiles = append([]Profile(nil), p.Profiles...)
	return &c
}

// Normalize resizes the table to maxProfiles slots and recomputes NumProfiles.
func (p *Prefs) Normalize(maxProfiles int) error {
	if len(p.Profiles) > maxProfiles {
		for _, prof := range p.Profiles[maxProfiles:] {
			if prof.InUse() {
				return fmt.Errorf("%w: %d > %d", ErrTooManyProfiles, len(p.Profiles), maxProfiles)
			}
		}
		p.Profiles = p.Profiles[:maxProfiles]
	}
	for len(p.Profiles) < maxProfiles {
		p.Profiles = append(p.Profiles, Profile{})
	}
	p.NumProfiles = p.Count()
	return nil
}

// Count returns the number of used slots.
func (p *Prefs) Count() int {
	n := 0
	for _, prof := range p.Profiles {
		if prof.InUse() {
			n++
		}
	}
	return n
}

// Saver persists a preferences record.
type Saver interface {
	Save(p *Prefs) error
}

// Store loads and saves a preferences record.
type Store interface {
	Saver
	Load() (*Prefs, error)
}

// MemoryStore keeps the record in memory. It is used by tests and by the
// in-memory flash mode.
type MemoryStore struct {
	MaxProfiles int
	Saved       *Prefs
	Saves       int
	Err         error
}

var _ Store = (*MemoryStore)(nil)

// Load returns a copy of the last saved record or an empty one.
func (s *MemoryStore) Load() (*Prefs, error) {
	if s.Saved == nil {
		return New(s.MaxProfiles), nil
	}
	return s.Saved.Clone(), nil
}

// Save keeps a copy of p.
func (s *MemoryStore) Save(p *Prefs) error {
	if s.Err != nil {
		return s.Err
	}
	p.SequenceNumber++
	s.Saved = p.Clone()
	s.Saves++
	return nil
}
