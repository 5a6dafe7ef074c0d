// Package flash manages the external serial flash that holds preferences and
// profiles: the block device collaborator, the profile run layout and the
// round-robin run allocator.
package flash

import (
	"errors"
	"fmt"
	"sync"
)

// BlockSize is the size of one addressable flash block.
const BlockSize = 256

var (
	// ErrOutOfRange is returned for block addresses outside the device or profile area.
	ErrOutOfRange = errors.New("flash: block address out of range")
	// ErrMisaligned is returned for profile addresses not on a run boundary.
	ErrMisaligned = errors.New("flash: block address not aligned to a profile run")
	// ErrWriteProtected is returned when writing while write protection is on.
	ErrWriteProtected = errors.New("flash: write protected")
	// ErrNoFreeRun is returned when every profile run is in use.
	ErrNoFreeRun = errors.New("flash: no free profile run")
	// ErrBadLength is returned when a buffer is not exactly one block.
	ErrBadLength = errors.New("flash: buffer must be one block")
)

// Device is the flash chip collaborator. Blocks are BlockSize bytes. Erased
// flash reads 0xFF and a write can only clear bits.
type Device interface {
	NumBlocks() int
	ReadBlock(block uint16, buf []byte) error
	WriteBlock(block uint16, data []byte) error
	Erase(block uint16, count uint16) error
	SetWriteProtect(enabled bool) error
}

// Memory is an in-memory Device with NOR flash semantics.
type Memory struct {
	mu        sync.Mutex
	data      []byte
	erases    []uint32
	writes    []uint32
	protected bool
}

var _ Device = (*Memory)(nil)

// NewMemory creates an erased, write-protected device of numBlocks blocks.
func NewMemory(numBlocks int) *Memory {
	m := &Memory{
		data:      make([]byte, numBlocks*BlockSize),
		erases:    make([]uint32, numBlocks),
		writes:    make([]uint32, numBlocks),
		protected: true,
	}
	for i := range m.data {
		m.data[i] = 0xFF
	}
	return m
}

// NumBlocks returns the number of blocks on the device.
func (m *Memory) NumBlocks() int {
	return len(m.erases)
}

// ReadBlock copies one block into buf.
func (m *Memory) ReadBlock(block uint16, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkBlock(int(block), 1, len(m.erases), buf); err != nil {
		return err
	}
	copy(buf, m.data[int(block)*BlockSize:])
	return nil
}

// WriteBlock programs one block. Bits can only be cleared.
func (m *Memory) WriteBlock(block uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.protected {
		return ErrWriteProtected
	}
	if err := checkBlock(int(block), 1, len(m.erases), data); err != nil {
		return err
	}
	dst := m.data[int(block)*BlockSize : (int(block)+1)*BlockSize]
	for i := range dst {
		dst[i] &= data[i]
	}
	m.writes[block]++
	return nil
}

// Erase sets count blocks starting at block back to 0xFF.
func (m *Memory) Erase(block uint16, count uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.protected {
		return ErrWriteProtected
	}
	if err := checkBlock(int(block), int(count), len(m.erases), nil); err != nil {
		return err
	}
	start := int(block) * BlockSize
	end := start + int(count)*BlockSize
	for i := start; i < end; i++ {
		m.data[i] = 0xFF
	}
	for b := int(block); b < int(block)+int(count); b++ {
		m.erases[b]++
	}
	return nil
}

// SetWriteProtect enables or disables write protection.
func (m *Memory) SetWriteProtect(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protected = enabled
	return nil
}

// WriteProtected reports whether write protection is on.
func (m *Memory) WriteProtected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protected
}

// EraseCount returns how many times a block has been erased.
func (m *Memory) EraseCount(block uint16) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(block) >= len(m.erases) {
		return 0
	}
	return m.erases[block]
}

// WriteCount returns how many times a block has been programmed.
func (m *Memory) WriteCount(block uint16) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(block) >= len(m.writes) {
		return 0
	}
	return m.writes[block]
}

func checkBlock(block, count, numBlocks int, buf []byte) error {
	if buf != nil && len(buf) != BlockSize {
		return ErrBadLength
	}
	if block < 0 || count < 0 || block+count > numBlocks {
		return fmt.Errorf("%w: block %d count %d (device has %d)", ErrOutOfRange, block, count, numBlocks)
	}
	return nil
}
