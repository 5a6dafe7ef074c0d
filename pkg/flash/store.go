package flash

import (
	"fmt"
	"log"
	"sync"

	"github.com/itohio/goreflow/pkg/config"
)

// Layout describes where profile runs live on the device. Blocks below
// FirstProfileBlock are reserved for preferences.
type Layout struct {
	FirstProfileBlock uint16
	BlocksPerProfile  uint16
	MaxProfiles       int
}

// LayoutFromConfig builds a Layout from the flash configuration.
func LayoutFromConfig(cfg config.FlashConfig) Layout {
	return Layout{
		FirstProfileBlock: cfg.FirstProfileBlock,
		BlocksPerProfile:  cfg.BlocksPerProfile,
		MaxProfiles:       cfg.MaxProfiles,
	}
}

// LastProfileBlock returns the start block of the highest profile run.
func (l Layout) LastProfileBlock() uint16 {
	return l.FirstProfileBlock + uint16(l.MaxProfiles-1)*l.BlocksPerProfile
}

// EndBlock returns the first block past the profile area.
func (l Layout) EndBlock() int {
	return int(l.FirstProfileBlock) + l.MaxProfiles*int(l.BlocksPerProfile)
}

// IsProfileBlock reports whether block lies inside the profile area.
func (l Layout) IsProfileBlock(block uint16) bool {
	return block >= l.FirstProfileBlock && int(block) < l.EndBlock()
}

// Validate checks the layout is usable on a device of numBlocks blocks.
func (l Layout) Validate(numBlocks int) error {
	if l.BlocksPerProfile == 0 || l.MaxProfiles <= 0 {
		return fmt.Errorf("flash: invalid layout %+v", l)
	}
	if l.FirstProfileBlock%l.BlocksPerProfile != 0 {
		return fmt.Errorf("%w: first profile block %d", ErrMisaligned, l.FirstProfileBlock)
	}
	if l.EndBlock() > numBlocks || l.EndBlock() > 0xFFFF {
		return fmt.Errorf("%w: profile area ends at %d, device has %d blocks", ErrOutOfRange, l.EndBlock(), numBlocks)
	}
	return nil
}

// CheckRun validates the start block of a profile run.
func (l Layout) CheckRun(start uint16) error {
	if start < l.FirstProfileBlock || start > l.LastProfileBlock() {
		return fmt.Errorf("%w: profile block %d not in [%d, %d]", ErrOutOfRange, start, l.FirstProfileBlock, l.LastProfileBlock())
	}
	if start%l.BlocksPerProfile != 0 {
		return fmt.Errorf("%w: profile block %d", ErrMisaligned, start)
	}
	return nil
}

// NextFreeRun finds the run to use for a new profile. The search starts after
// last and walks forward one run at a time, wrapping back to the first run, so
// that successive profiles are spread over the whole area. It gives up after
// MaxProfiles candidates.
func (l Layout) NextFreeRun(last uint16, inUse func(start uint16) bool) (uint16, bool) {
	block := last
	if l.CheckRun(block) != nil {
		block = l.LastProfileBlock()
	}

	for i := 0; i < l.MaxProfiles; i++ {
		block += l.BlocksPerProfile
		if block > l.LastProfileBlock() {
			block = l.FirstProfileBlock
		}
		if !inUse(block) {
			return block, true
		}
	}
	return 0, false
}

// Store guards every access to the device: addresses are validated before the
// hardware is touched, and write protection is lifted only around each write.
type Store struct {
	mu     sync.Mutex
	dev    Device
	layout Layout
}

// NewStore wraps a device with the given layout.
func NewStore(dev Device, layout Layout) (*Store, error) {
	if err := layout.Validate(dev.NumBlocks()); err != nil {
		return nil, err
	}
	return &Store{dev: dev, layout: layout}, nil
}

// Layout returns the profile layout.
func (s *Store) Layout() Layout {
	return s.layout
}

// EraseRun erases every block of the profile run starting at start.
func (s *Store) EraseRun(start uint16) error {
	if err := s.layout.CheckRun(start); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unprotected(func() error {
		return s.dev.Erase(start, s.layout.BlocksPerProfile)
	})
}

// WriteBlock programs one block of the profile area.
func (s *Store) WriteBlock(block uint16, data []byte) error {
	if err := s.checkProfileBlock(block); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unprotected(func() error {
		return s.dev.WriteBlock(block, data)
	})
}

// ReadBlock reads one block of the profile area.
func (s *Store) ReadBlock(block uint16, buf []byte) error {
	if err := s.checkProfileBlock(block); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.ReadBlock(block, buf)
}

// EraseReserved erases blocks of the reserved area below the profiles.
func (s *Store) EraseReserved(block, count uint16) error {
	if int(block)+int(count) > int(s.layout.FirstProfileBlock) {
		return fmt.Errorf("%w: reserved blocks %d+%d", ErrOutOfRange, block, count)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unprotected(func() error {
		return s.dev.Erase(block, count)
	})
}

// WriteReserved programs one block of the reserved area.
func (s *Store) WriteReserved(block uint16, data []byte) error {
	if block >= s.layout.FirstProfileBlock {
		return fmt.Errorf("%w: reserved block %d", ErrOutOfRange, block)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unprotected(func() error {
		return s.dev.WriteBlock(block, data)
	})
}

// ReadReserved reads one block of the reserved area.
func (s *Store) ReadReserved(block uint16, buf []byte) error {
	if block >= s.layout.FirstProfileBlock {
		return fmt.Errorf("%w: reserved block %d", ErrOutOfRange, block)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.ReadBlock(block, buf)
}

func (s *Store) checkProfileBlock(block uint16) error {
	if !s.layout.IsProfileBlock(block) {
		return fmt.Errorf("%w: profile block %d", ErrOutOfRange, block)
	}
	return nil
}

// unprotected runs fn with write protection lifted and restores it afterwards.
func (s *Store) unprotected(fn func() error) (err error) {
	if err := s.dev.SetWriteProtect(false); err != nil {
		return fmt.Errorf("failed to lift write protection: %w", err)
	}
	defer func() {
		if perr := s.dev.SetWriteProtect(true); perr != nil {
			log.Printf("Failed to restore flash write protection: %v", perr)
			if err == nil {
				err = perr
			}
		}
	}()
	return fn()
}
