package prefs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log"

	"github.com/itohio/goreflow/pkg/flash"
	"gopkg.in/yaml.v3"
)

const headerSize = 16

var magic = [4]byte{'R', 'W', 'P', 'F'}

// ErrTooLarge is returned when the encoded record does not fit a slot.
var ErrTooLarge = errors.New("prefs: record larger than a flash slot")

// FlashStore keeps the record in the reserved area below the profiles. The
// area is split into slots and each save goes to the slot after the previous
// one, so an interrupted save leaves the older copy intact. Load picks the
// valid slot with the highest sequence number.
type FlashStore struct {
	store       *flash.Store
	slots       int
	slotBlocks  uint16
	maxProfiles int
}

var _ Store = (*FlashStore)(nil)

// NewFlashStore splits the reserved area of store into slots.
func NewFlashStore(store *flash.Store, slots, maxProfiles int) (*FlashStore, error) {
	reserved := int(store.Layout().FirstProfileBlock)
	if slots <= 0 || reserved/slots == 0 {
		return nil, fmt.Errorf("prefs: %d slots do not fit in %d reserved blocks", slots, reserved)
	}
	return &FlashStore{
		store:       store,
		slots:       slots,
		slotBlocks:  uint16(reserved / slots),
		maxProfiles: maxProfiles,
	}, nil
}

// Load returns the newest valid record, or an empty one on a blank device.
func (s *FlashStore) Load() (*Prefs, error) {
	var (
		best    []byte
		bestSeq uint32
		found   bool
	)
	for slot := 0; slot < s.slots; slot++ {
		seq, payload, err := s.readSlot(slot)
		if err != nil {
			log.Printf("Prefs slot %d: %v", slot, err)
			continue
		}
		if payload == nil {
			continue
		}
		if !found || seq > bestSeq {
			best, bestSeq, found = payload, seq, true
		}
	}

	p := New(s.maxProfiles)
	if !found {
		return p, nil
	}
	if err := yaml.Unmarshal(best, p); err != nil {
		return nil, fmt.Errorf("failed to parse prefs: %w", err)
	}
	p.SequenceNumber = bestSeq
	if err := p.Normalize(s.maxProfiles); err != nil {
		return nil, err
	}
	return p, nil
}

// Save bumps the sequence number and writes the record to the next slot.
func (s *FlashStore) Save(p *Prefs) error {
	seq := p.SequenceNumber + 1
	payload, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prefs: %w", err)
	}

	size := headerSize + len(payload)
	if size > int(s.slotBlocks)*flash.BlockSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	data := make([]byte, (size+flash.BlockSize-1)/flash.BlockSize*flash.BlockSize)
	for i := range data {
		data[i] = 0xFF
	}
	copy(data, magic[:])
	binary.LittleEndian.PutUint32(data[4:], seq)
	binary.LittleEndian.PutUint32(data[8:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(data[12:], crc32.ChecksumIEEE(payload))
	copy(data[headerSize:], payload)

	first := uint16(int(seq)%s.slots) * s.slotBlocks
	if err := s.store.EraseReserved(first, s.slotBlocks); err != nil {
		return fmt.Errorf("failed to erase prefs slot: %w", err)
	}
	for off := 0; off < len(data); off += flash.BlockSize {
		block := first + uint16(off/flash.BlockSize)
		if err := s.store.WriteReserved(block, data[off:off+flash.BlockSize]); err != nil {
			return fmt.Errorf("failed to write prefs block %d: %w", block, err)
		}
	}

	p.SequenceNumber = seq
	log.Printf("Prefs saved to block %d (sequence %d)", first, seq)
	return nil
}

// readSlot returns the payload of a slot, or nil for an erased slot.
func (s *FlashStore) readSlot(slot int) (uint32, []byte, error) {
	first := uint16(slot) * s.slotBlocks
	buf := make([]byte, int(s.slotBlocks)*flash.BlockSize)
	if err := s.store.ReadReserved(first, buf[:flash.BlockSize]); err != nil {
		return 0, nil, err
	}
	if !bytes.Equal(buf[:4], magic[:]) {
		return 0, nil, nil
	}

	seq := binary.LittleEndian.Uint32(buf[4:])
	length := int(binary.LittleEndian.Uint32(buf[8:]))
	sum := binary.LittleEndian.Uint32(buf[12:])
	if headerSize+length > len(buf) {
		return 0, nil, fmt.Errorf("bad length %d", length)
	}

	for b := 1; b*flash.BlockSize < headerSize+length; b++ {
		if err := s.store.ReadReserved(first+uint16(b), buf[b*flash.BlockSize:(b+1)*flash.BlockSize]); err != nil {
			return 0, nil, err
		}
	}
	payload := buf[headerSize : headerSize+length]
	if crc32.ChecksumIEEE(payload) != sum {
		return 0, nil, fmt.Errorf("checksum mismatch")
	}
	return seq, payload, nil
}
