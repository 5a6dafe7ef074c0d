package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/itohio/goreflow/pkg/flash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Prefs {
	p := New(4)
	p.Profiles[0] = Profile{Name: "Lead free", StartBlock: 64, TokenCount: 12, PeakTemperature: 245}
	p.Profiles[1] = Profile{Name: "Tin lead", StartBlock: 96, TokenCount: 9, PeakTemperature: 215}
	p.LastUsedProfileBlock = 96
	p.NumProfiles = 2
	return p
}

func newFlashStore(t *testing.T, mem *flash.Memory) *FlashStore {
	t.Helper()
	store, err := flash.NewStore(mem, flash.Layout{FirstProfileBlock: 64, BlocksPerProfile: 16, MaxProfiles: 4})
	require.NoError(t, err)
	fs, err := NewFlashStore(store, 4, 4)
	require.NoError(t, err)
	return fs
}

func TestPrefs_Normalize(t *testing.T) {
	p := &Prefs{Profiles: []Profile{{Name: "a", StartBlock: 64}}}
	require.NoError(t, p.Normalize(3))
	assert.Len(t, p.Profiles, 3)
	assert.Equal(t, 1, p.NumProfiles)

	p = &Prefs{Profiles: make([]Profile, 5)}
	require.NoError(t, p.Normalize(3))
	assert.Len(t, p.Profiles, 3)

	p = &Prefs{Profiles: []Profile{{}, {}, {}, {Name: "x", StartBlock: 64}}}
	assert.ErrorIs(t, p.Normalize(3), ErrTooManyProfiles)
}

func TestPrefs_Clone(t *testing.T) {
	p := sample()
	c := p.Clone()
	c.Profiles[0].Name = "changed"
	assert.Equal(t, "Lead free", p.Profiles[0].Name)
}

func TestFlashStore_BlankDevice(t *testing.T) {
	s := newFlashStore(t, flash.NewMemory(128))
	p, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, New(4), p)
}

func TestFlashStore_SaveLoad(t *testing.T) {
	mem := flash.NewMemory(128)
	s := newFlashStore(t, mem)

	p := sample()
	require.NoError(t, s.Save(p))
	assert.Equal(t, uint32(1), p.SequenceNumber)
	assert.True(t, mem.WriteProtected())

	got, err := newFlashStore(t, mem).Load()
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestFlashStore_RotatesSlots(t *testing.T) {
	mem := flash.NewMemory(128)
	s := newFlashStore(t, mem)

	p := sample()
	for i := 0; i < 6; i++ {
		p.Profiles[2] = Profile{Name: "gen", StartBlock: 80, TokenCount: uint16(i)}
		require.NoError(t, s.Save(p))
	}

	// Sequence 1..6 over 4 slots of 16 blocks
	for slot := uint16(0); slot < 4; slot++ {
		assert.NotZero(t, mem.EraseCount(slot*16), "slot %d used", slot)
	}
	assert.Equal(t, uint32(2), mem.EraseCount(16))
	assert.Equal(t, uint32(1), mem.EraseCount(48))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(6), got.SequenceNumber)
	assert.Equal(t, uint16(5), got.Profiles[2].TokenCount)
}

func TestFlashStore_CorruptNewestFallsBack(t *testing.T) {
	mem := flash.NewMemory(128)
	s := newFlashStore(t, mem)

	p := sample()
	require.NoError(t, s.Save(p)) // slot 1
	p.LastUsedProfileBlock = 112
	require.NoError(t, s.Save(p)) // slot 2

	// Clear payload bits in slot 2 to break the checksum.
	require.NoError(t, mem.SetWriteProtect(false))
	garbage := make([]byte, flash.BlockSize)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	garbage[40] = 0
	require.NoError(t, mem.WriteBlock(32, garbage))
	require.NoError(t, mem.SetWriteProtect(true))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.SequenceNumber)
	assert.Equal(t, uint16(96), got.LastUsedProfileBlock)
}

func TestFlashStore_TooLarge(t *testing.T) {
	store, err := flash.NewStore(flash.NewMemory(128), flash.Layout{FirstProfileBlock: 16, BlocksPerProfile: 16, MaxProfiles: 4})
	require.NoError(t, err)
	s, err := NewFlashStore(store, 16, 200)
	require.NoError(t, err)

	p := New(200)
	for i := range p.Profiles {
		p.Profiles[i] = Profile{Name: "a fairly long name", StartBlock: 16, TokenCount: 100, PeakTemperature: 250}
	}
	assert.ErrorIs(t, s.Save(p), ErrTooLarge)
	assert.Zero(t, p.SequenceNumber)
}

func TestNewFlashStore_BadSlots(t *testing.T) {
	store, err := flash.NewStore(flash.NewMemory(128), flash.Layout{FirstProfileBlock: 64, BlocksPerProfile: 16, MaxProfiles: 4})
	require.NoError(t, err)
	_, err = NewFlashStore(store, 0, 4)
	assert.Error(t, err)
	_, err = NewFlashStore(store, 65, 4)
	assert.Error(t, err)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	s := &FileStore{Path: path, MaxProfiles: 4}

	p, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, New(4), p)

	p = sample()
	require.NoError(t, s.Save(p))
	assert.Equal(t, uint32(1), p.SequenceNumber)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, p, got)

	require.NoError(t, os.WriteFile(path, []byte("profiles: [unclosed"), 0644))
	_, err = s.Load()
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	s := &MemoryStore{MaxProfiles: 4}
	p := sample()
	require.NoError(t, s.Save(p))
	assert.Equal(t, 1, s.Saves)

	p.Profiles[0].Name = "mutated"
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "Lead free", got.Profiles[0].Name)
}
