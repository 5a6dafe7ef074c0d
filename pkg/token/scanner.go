package token

import (
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a line ends before a number starts.
	ErrNotFound = errors.New("token: number not found before end of line")
	// ErrMissingQuote is returned when a line ends inside a quoted string.
	ErrMissingQuote = errors.New("token: missing closing double-quote")
	// ErrUnexpectedEOF is returned when the text ends before a value is complete.
	ErrUnexpectedEOF = errors.New("token: unexpected end of file")
	// ErrNumberTooLarge is returned when a number does not fit in 16 bits.
	ErrNumberTooLarge = errors.New("token: number larger than 65535")
)

// Scanner finds keywords in a stream of characters. Every keyword is matched
// in parallel; characters that are not part of a keyword are skipped.
type Scanner struct {
	pos [numTokens]int
}

// NewScanner returns a scanner with no partial matches.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Reset drops all partial matches.
func (s *Scanner) Reset() {
	s.pos = [numTokens]int{}
}

// Scan feeds one character to the scanner and returns the token completed by
// it, or NotAToken. The scanner is reset whenever a token is returned.
func (s *Scanner) Scan(c byte) Token {
	c = toLower(c)
	for i := Token(1); i < numTokens; i++ {
		info := &table[i]
		if info.Kind == KindMarker {
			continue
		}
		kw := info.Keyword
		p := s.pos[i]
		if c == kw[p] {
			p++
			if p == len(kw) {
				s.Reset()
				return i
			}
			s.pos[i] = p
			continue
		}
		// Restart, letting this character begin a new match.
		if p > 0 && c == kw[0] {
			s.pos[i] = 1
		} else {
			s.pos[i] = 0
		}
	}
	return NotAToken
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isEOL(c byte) bool {
	return c == '\n' || c == '\r'
}

// SkipLine discards characters up to and including the next line terminator.
func SkipLine(r io.ByteReader) error {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		if isEOL(c) {
			return nil
		}
	}
}

// ReadQuotedString reads a string enclosed in double-quotes. Everything before
// the opening quote is skipped. Characters beyond maxLen are dropped but still
// consumed so the closing quote is found. Nothing after the closing quote is
// consumed.
func ReadQuotedString(r io.ByteReader, maxLen int) (string, error) {
	var (
		buf    = make([]byte, 0, maxLen)
		opened bool
	)
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrUnexpectedEOF
			}
			return "", err
		}
		if !opened {
			if c == '"' {
				opened = true
			}
			continue
		}
		if c == '"' {
			return string(buf), nil
		}
		if isEOL(c) {
			return "", ErrMissingQuote
		}
		if len(buf) < maxLen {
			buf = append(buf, c)
		}
	}
}

// ReadNumber reads an unsigned decimal number. Non-digits before the number are
// skipped; the first non-digit after it is consumed as the delimiter.
func ReadNumber(r io.ByteReader) (uint16, error) {
	var (
		num   uint32
		found bool
	)
	for {
		c, err := r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return 0, err
			}
			if found {
				return uint16(num), nil
			}
			return 0, ErrUnexpectedEOF
		}
		if !found {
			if isEOL(c) {
				return 0, ErrNotFound
			}
			if isDigit(c) {
				found = true
				num = uint32(c - '0')
			}
			continue
		}
		if !isDigit(c) {
			return uint16(num), nil
		}
		num = num*10 + uint32(c-'0')
		if num > 0xFFFF {
			return 0, ErrNumberTooLarge
		}
	}
}
