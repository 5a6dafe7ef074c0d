// Package directory keeps the table of stored profiles: it imports profile
// text files into flash, replaces and deletes profiles, and keeps the table
// sorted and persisted.
package directory

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/itohio/goreflow/pkg/flash"
	"github.com/itohio/goreflow/pkg/prefs"
	"github.com/itohio/goreflow/pkg/profile"
	"github.com/itohio/goreflow/pkg/token"
)

var (
	// ErrFull is returned when every profile slot is taken.
	ErrFull = errors.New("directory: no space to store profile")
	// ErrNoName is returned when a profile has no name.
	ErrNoName = errors.New("directory: profile has no name")
	// ErrDuplicateName is returned when a file names its profile twice.
	ErrDuplicateName = errors.New("directory: profile has more than one name")
	// ErrNotFound is returned for unknown profile names or indices.
	ErrNotFound = errors.New("directory: profile not found")
)

// Directory owns the preferences record and the profiles it references.
type Directory struct {
	mu    sync.Mutex
	codec *profile.Codec
	saver prefs.Saver
	prefs *prefs.Prefs
}

// New creates a directory over an already loaded preferences record. The
// record is resized to the flash layout and sorted.
func New(codec *profile.Codec, p *prefs.Prefs, saver prefs.Saver) (*Directory, error) {
	if err := p.Normalize(codec.Store().Layout().MaxProfiles); err != nil {
		return nil, err
	}
	d := &Directory{codec: codec, saver: saver, prefs: p}
	d.sort()
	return d, nil
}

// Count returns the number of stored profiles.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prefs.NumProfiles
}

// Profiles returns the stored profiles in name order.
func (d *Directory) Profiles() []prefs.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]prefs.Profile(nil), d.prefs.Profiles[:d.prefs.NumProfiles]...)
}

// Prefs returns a copy of the preferences record.
func (d *Directory) Prefs() *prefs.Prefs {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prefs.Clone()
}

// Get returns the profile at index.
func (d *Directory) Get(index int) (prefs.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= d.prefs.NumProfiles {
		return prefs.Profile{}, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return d.prefs.Profiles[index], nil
}

// Lookup returns the index of the profile called name.
func (d *Directory) Lookup(name string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookup(name)
}

// Exists reports whether a profile called name is stored.
func (d *Directory) Exists(name string) bool {
	_, ok := d.Lookup(name)
	return ok
}

// Open starts reading the profile at index.
func (d *Directory) Open(index int) (*profile.Cursor, error) {
	p, err := d.Get(index)
	if err != nil {
		return nil, err
	}
	return d.codec.Open(p.StartBlock)
}

// Dump writes a readable listing of the profile at index.
func (d *Directory) Dump(index int, w io.Writer) error {
	cur, err := d.Open(index)
	if err != nil {
		return err
	}
	return profile.Dump(w, cur)
}

// Sort orders the table by name with unused slots last and saves it.
func (d *Directory) Sort() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sort()
	return d.save()
}

// Delete erases the profile at index and frees its slot.
func (d *Directory) Delete(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.prefs.Profiles) || !d.prefs.Profiles[index].InUse() {
		return fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err := d.delete(index); err != nil {
		return err
	}
	return d.save()
}

// DeleteByName deletes the profile called name.
func (d *Directory) DeleteByName(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err := d.delete(i); err != nil {
		return err
	}
	return d.save()
}

// Add stores an already decoded profile, replacing any profile with the same
// name.
func (d *Directory) Add(name string, ins []profile.Instruction) (prefs.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.begin(name)
	if err != nil {
		return prefs.Profile{}, err
	}
	for _, in := range ins {
		if err := tx.append(in); err != nil {
			return prefs.Profile{}, d.discard(tx, err)
		}
	}
	return d.commit(tx)
}

// FactoryReset erases every profile run and clears the table.
func (d *Directory) FactoryReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	layout := d.codec.Store().Layout()
	for i := 0; i < layout.MaxProfiles; i++ {
		start := layout.FirstProfileBlock + uint16(i)*layout.BlocksPerProfile
		if err := d.codec.Store().EraseRun(start); err != nil {
			return fmt.Errorf("failed to erase profile run %d: %w", start, err)
		}
	}
	seq := d.prefs.SequenceNumber
	d.prefs = prefs.New(layout.MaxProfiles)
	d.prefs.SequenceNumber = seq
	log.Printf("Factory reset: all profiles erased")
	return d.save()
}

func (d *Directory) lookup(name string) (int, bool) {
	for i, p := range d.prefs.Profiles {
		if p.InUse() && p.Name == name {
			return i, true
		}
	}
	return -1, false
}

// delete erases the run of slot i, clears the slot and re-sorts the table.
func (d *Directory) delete(i int) error {
	p := d.prefs.Profiles[i]
	if err := d.codec.Store().EraseRun(p.StartBlock); err != nil {
		return fmt.Errorf("failed to erase profile %q: %w", p.Name, err)
	}
	d.prefs.Profiles[i] = prefs.Profile{}
	d.sort()
	log.Printf("Deleted profile %q  No. of profiles= %d", p.Name, d.prefs.NumProfiles)
	return nil
}

// sort orders used slots by name and moves unused slots to the end. It is an
// insertion sort over at most MaxProfiles entries.
func (d *Directory) sort() {
	ps := d.prefs.Profiles
	for i := 1; i < len(ps); i++ {
		cur := ps[i]
		j := i
		for j > 0 && less(cur, ps[j-1]) {
			ps[j] = ps[j-1]
			j--
		}
		ps[j] = cur
	}
	for i := range ps {
		if !ps[i].InUse() {
			ps[i] = prefs.Profile{}
		}
	}
	d.prefs.NumProfiles = d.prefs.Count()
}

func less(a, b prefs.Profile) bool {
	if !a.InUse() {
		return false
	}
	if !b.InUse() {
		return true
	}
	return strings.Compare(a.Name, b.Name) < 0
}

func (d *Directory) save() error {
	if d.saver == nil {
		return nil
	}
	if err := d.saver.Save(d.prefs); err != nil {
		return fmt.Errorf("failed to save prefs: %w", err)
	}
	return nil
}

// transaction is a profile being written. Nothing in the table refers to its
// run until it is committed.
type transaction struct {
	w       *profile.Writer
	profile prefs.Profile
}

func (tx *transaction) append(in profile.Instruction) error {
	if err := tx.w.Append(in); err != nil {
		return err
	}
	tx.profile.TokenCount++
	if peak, ok := peakOf(in); ok && peak > tx.profile.PeakTemperature {
		tx.profile.PeakTemperature = peak
	}
	return nil
}

// peakOf returns the temperature an instruction may drive the oven to.
func peakOf(in profile.Instruction) (uint16, bool) {
	switch in.Token {
	case token.RampTemperature, token.Maintain, token.WaitUntilAbove:
		return in.Args[0], true
	}
	return 0, false
}

// begin deletes any profile called name, allocates a free run, erases it and
// starts writing.
func (d *Directory) begin(name string) (*transaction, error) {
	if name == "" {
		return nil, ErrNoName
	}
	if len(name) > token.MaxNameLength {
		name = name[:token.MaxNameLength]
	}

	if i, ok := d.lookup(name); ok {
		if err := d.delete(i); err != nil {
			return nil, err
		}
		if err := d.save(); err != nil {
			return nil, err
		}
	}

	layout := d.codec.Store().Layout()
	if d.prefs.Count() >= layout.MaxProfiles {
		return nil, ErrFull
	}
	start, ok := layout.NextFreeRun(d.prefs.LastUsedProfileBlock, d.inUse)
	if !ok {
		return nil, flash.ErrNoFreeRun
	}
	if err := d.codec.Store().EraseRun(start); err != nil {
		return nil, fmt.Errorf("failed to erase profile run %d: %w", start, err)
	}
	// Recorded at allocation so a failing import does not wear the same run
	d.prefs.LastUsedProfileBlock = start
	w, err := d.codec.NewWriter(start)
	if err != nil {
		return nil, err
	}
	log.Printf("Writing profile %q at block %d", name, w.Start())
	return &transaction{w: w, profile: prefs.Profile{Name: name, StartBlock: w.Start()}}, nil
}

func (d *Directory) inUse(start uint16) bool {
	for _, p := range d.prefs.Profiles {
		if p.StartBlock == start {
			return true
		}
	}
	return false
}

// commit finishes the profile and records it in the first free slot.
func (d *Directory) commit(tx *transaction) (prefs.Profile, error) {
	if err := tx.w.Finish(); err != nil {
		return prefs.Profile{}, d.discard(tx, err)
	}

	slot := -1
	for i, p := range d.prefs.Profiles {
		if !p.InUse() {
			slot = i
			break
		}
	}
	if slot < 0 {
		return prefs.Profile{}, d.discard(tx, ErrFull)
	}

	d.prefs.Profiles[slot] = tx.profile
	d.prefs.LastUsedProfileBlock = tx.profile.StartBlock
	d.sort()
	if err := d.save(); err != nil {
		return prefs.Profile{}, err
	}
	log.Printf("Stored profile %q: %d tokens, peak %dC, %d blocks", tx.profile.Name, tx.profile.TokenCount, tx.profile.PeakTemperature, tx.w.Blocks())
	return tx.profile, nil
}

// discard erases the run of an uncommitted profile and returns cause.
func (d *Directory) discard(tx *transaction, cause error) error {
	if err := d.codec.Store().EraseRun(tx.profile.StartBlock); err != nil {
		log.Printf("Failed to erase discarded profile run %d: %v", tx.profile.StartBlock, err)
	}
	if err := d.save(); err != nil {
		log.Printf("Failed to save prefs after discarding %q: %v", tx.profile.Name, err)
	}
	log.Printf("Error processing profile %q - discarded: %v", tx.profile.Name, cause)
	return cause
}
