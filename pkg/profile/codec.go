// Package profile encodes profile instructions into runs of flash blocks and
// decodes them back.
//
// A run is BlocksPerProfile consecutive blocks. Each block holds a sequence of
// entries: one token byte followed by its numeric parameters (little-endian
// 16-bit) or a NUL-terminated string. A block ends with either a NextFlashBlock
// marker, meaning the run continues in the following block, or an EndOfProfile
// marker. No entry ever spans two blocks.
package profile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/itohio/goreflow/pkg/flash"
	"github.com/itohio/goreflow/pkg/token"
)

var (
	// ErrTooManyBlocks is returned when a profile does not fit its run.
	ErrTooManyBlocks = errors.New("profile: too long, does not fit in its flash run")
	// ErrCorrupt is returned when a stored block cannot be decoded.
	ErrCorrupt = errors.New("profile: corrupt flash block")
	// ErrCursorClosed is returned by a cursor superseded by a newer Open.
	ErrCursorClosed = errors.New("profile: cursor closed")
	// ErrFinished is returned when appending to a finished writer.
	ErrFinished = errors.New("profile: writer already finished")
	// ErrBadToken is returned when appending a token that is not stored in flash.
	ErrBadToken = errors.New("profile: token cannot be stored")
)

// Instruction is one decoded profile entry.
type Instruction struct {
	Token token.Token
	Args  [token.MaxArgs]uint16
	Text  string
}

// String returns the readable form of the instruction.
func (i Instruction) String() string {
	return token.Text(i.Token, i.Args, i.Text)
}

// Size returns the number of bytes the instruction takes in a block.
func (i Instruction) Size() int {
	if i.Token.Kind() == token.KindString {
		return 1 + len(i.Text) + 1
	}
	return 1 + 2*i.Token.Args()
}

// Codec reads and writes profiles in a flash store. Only one cursor may be open
// at a time; opening a new one closes the previous cursor.
type Codec struct {
	store *flash.Store

	mu  sync.Mutex
	gen uint64
}

// NewCodec creates a codec over store.
func NewCodec(store *flash.Store) *Codec {
	return &Codec{store: store}
}

// Store returns the underlying flash store.
func (c *Codec) Store() *flash.Store {
	return c.store
}

// NewWriter begins writing a profile at the run starting at start. The run
// must have been erased.
func (c *Codec) NewWriter(start uint16) (*Writer, error) {
	if err := c.store.Layout().CheckRun(start); err != nil {
		return nil, err
	}
	return &Writer{
		store:     c.store,
		start:     start,
		maxBlocks: int(c.store.Layout().BlocksPerProfile),
	}, nil
}

// Open starts reading the profile stored at start.
func (c *Codec) Open(start uint16) (*Cursor, error) {
	if err := c.store.Layout().CheckRun(start); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	cur := &Cursor{
		codec:     c,
		gen:       gen,
		start:     start,
		maxBlocks: int(c.store.Layout().BlocksPerProfile),
	}
	if err := c.store.ReadBlock(start, cur.buf[:]); err != nil {
		return nil, fmt.Errorf("failed to read profile block %d: %w", start, err)
	}
	return cur, nil
}

func (c *Codec) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// Writer stages profile entries into one block at a time.
type Writer struct {
	store     *flash.Store
	start     uint16
	maxBlocks int

	buf      [flash.BlockSize]byte
	off      int
	used     int
	count    int
	finished bool
	err      error
}

// AppendToken appends a numeric token with its parameters. Missing parameters
// are written as zero.
func (w *Writer) AppendToken(tok token.Token, args ...uint16) error {
	in := Instruction{Token: tok}
	copy(in.Args[:], args)
	return w.Append(in)
}

// AppendString appends a token that takes a string, truncated to the display
// length.
func (w *Writer) AppendString(tok token.Token, s string) error {
	return w.Append(Instruction{Token: tok, Text: s})
}

// Append appends one instruction. After the first error every call returns it.
func (w *Writer) Append(in Instruction) error {
	if w.err != nil {
		return w.err
	}
	if w.finished {
		return ErrFinished
	}
	if !in.Token.Storable() {
		return fmt.Errorf("%w: %v", ErrBadToken, in.Token)
	}
	if in.Token.Kind() == token.KindString {
		if len(in.Text) > token.MaxDisplayLength {
			in.Text = in.Text[:token.MaxDisplayLength]
		}
		for i := 0; i < len(in.Text); i++ {
			if in.Text[i] == 0 {
				in.Text = in.Text[:i]
				break
			}
		}
	}

	// Keep room for the entry and a trailing marker.
	if w.off > flash.BlockSize-token.MaxEntrySize-1 {
		w.buf[w.off] = byte(token.NextFlashBlock)
		if err := w.flush(); err != nil {
			return err
		}
	}

	log.Printf("Profile token: %s", in)
	w.buf[w.off] = byte(in.Token)
	w.off++
	if in.Token.Kind() == token.KindString {
		w.off += copy(w.buf[w.off:], in.Text)
		w.buf[w.off] = 0
		w.off++
	} else {
		for i := 0; i < in.Token.Args(); i++ {
			binary.LittleEndian.PutUint16(w.buf[w.off:], in.Args[i])
			w.off += 2
		}
	}
	w.count++
	return nil
}

// Finish terminates the profile and writes the final block.
func (w *Writer) Finish() error {
	if w.err != nil {
		return w.err
	}
	if w.finished {
		return ErrFinished
	}
	w.buf[w.off] = byte(token.EndOfProfile)
	if err := w.flush(); err != nil {
		return err
	}
	w.finished = true
	return nil
}

// Blocks returns the number of blocks written so far.
func (w *Writer) Blocks() int {
	return w.used
}

// Count returns the number of instructions appended.
func (w *Writer) Count() int {
	return w.count
}

// Start returns the first block of the run.
func (w *Writer) Start() uint16 {
	return w.start
}

func (w *Writer) flush() error {
	if w.used >= w.maxBlocks {
		w.err = fmt.Errorf("%w: more than %d blocks", ErrTooManyBlocks, w.maxBlocks)
		return w.err
	}
	block := w.start + uint16(w.used)
	if err := w.store.WriteBlock(block, w.buf[:]); err != nil {
		w.err = fmt.Errorf("failed to write profile block %d: %w", block, err)
		return w.err
	}
	log.Printf("Wrote profile flash block %d size (bytes) = %d", block, w.off)

	w.used++
	w.off = 0
	w.buf = [flash.BlockSize]byte{}
	return nil
}

// Cursor walks the instructions of one stored profile in order.
type Cursor struct {
	codec     *Codec
	gen       uint64
	start     uint16
	maxBlocks int

	buf   [flash.BlockSize]byte
	block int
	off   int
	done  bool
	err   error
}

// Start returns the first block of the profile being read.
func (c *Cursor) Start() uint16 {
	return c.start
}

// Next returns the next instruction. Once the end of the profile is reached it
// keeps returning an EndOfProfile instruction.
func (c *Cursor) Next() (Instruction, error) {
	if !c.codec.current(c.gen) {
		return Instruction{}, ErrCursorClosed
	}
	if c.err != nil {
		return Instruction{}, c.err
	}
	if c.done {
		return Instruction{Token: token.EndOfProfile}, nil
	}

	for {
		tok := token.Token(c.buf[c.off])
		switch {
		case tok == token.EndOfProfile:
			c.done = true
			return Instruction{Token: token.EndOfProfile}, nil

		case tok == token.NextFlashBlock:
			c.block++
			if c.block >= c.maxBlocks {
				log.Printf("Profile at block %d: too many blocks", c.start)
				c.done = true
				return Instruction{Token: token.EndOfProfile}, nil
			}
			if err := c.codec.store.ReadBlock(c.start+uint16(c.block), c.buf[:]); err != nil {
				c.err = fmt.Errorf("failed to read profile block %d: %w", c.start+uint16(c.block), err)
				return Instruction{}, c.err
			}
			c.off = 0
			continue

		case !tok.Storable():
			return Instruction{}, c.corrupt("unknown token %d", uint8(tok))
		}

		in := Instruction{Token: tok}
		p := c.off + 1
		if tok.Kind() == token.KindString {
			end := p
			for end < flash.BlockSize && c.buf[end] != 0 {
				end++
			}
			if end >= flash.BlockSize {
				return Instruction{}, c.corrupt("unterminated string")
			}
			in.Text = string(c.buf[p:end])
			p = end + 1
		} else {
			n := tok.Args()
			if p+2*n >= flash.BlockSize {
				return Instruction{}, c.corrupt("truncated %v", tok)
			}
			for i := 0; i < n; i++ {
				in.Args[i] = binary.LittleEndian.Uint16(c.buf[p:])
				p += 2
			}
		}
		if p >= flash.BlockSize {
			return Instruction{}, c.corrupt("missing end marker")
		}
		c.off = p
		return in, nil
	}
}

func (c *Cursor) corrupt(format string, args ...interface{}) error {
	c.err = fmt.Errorf("%w: block %d offset %d: %s", ErrCorrupt, c.start+uint16(c.block), c.off, fmt.Sprintf(format, args...))
	return c.err
}
