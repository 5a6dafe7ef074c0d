package directory

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"path"
	"strings"

	"github.com/itohio/goreflow/pkg/prefs"
	"github.com/itohio/goreflow/pkg/profile"
	"github.com/itohio/goreflow/pkg/token"
)

const (
	// Magic starts every profile file.
	Magic = "Controleo3"
	// MinFileSize is the size below which files are not considered profiles.
	MinFileSize = 100
	// Extension selects profile files, compared case-insensitively.
	Extension = ".txt"
)

// ErrBadHeader is returned when a file does not start with Magic.
var ErrBadHeader = errors.New("directory: file does not start with " + Magic)

// ParseError reports why a profile file was rejected.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Report summarises a LoadFromFS walk.
type Report struct {
	Imported []prefs.Profile
	Skipped  []string
	Failed   []*ParseError
}

// LoadFromFS imports every profile file under root. Failing files are recorded
// in the report and do not stop the walk.
func (d *Directory) LoadFromFS(fsys fs.FS, root string) (Report, error) {
	var rep Report
	err := d.walk(fsys, root, &rep)
	return rep, err
}

func (d *Directory) walk(fsys fs.FS, dir string, rep *Report) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, e := range entries {
		name := path.Join(dir, e.Name())
		if e.IsDir() {
			if err := d.walk(fsys, name, rep); err != nil {
				return err
			}
			continue
		}
		if !strings.EqualFold(path.Ext(name), Extension) {
			continue
		}

		p, err := d.importFile(fsys, name)
		switch {
		case errors.Is(err, errSkipped):
			rep.Skipped = append(rep.Skipped, name)
		case err != nil:
			rep.Failed = append(rep.Failed, &ParseError{File: name, Err: err})
		default:
			rep.Imported = append(rep.Imported, p)
		}
	}
	return nil
}

var errSkipped = errors.New("not a profile file")

func (d *Directory) importFile(fsys fs.FS, name string) (prefs.Profile, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return prefs.Profile{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return prefs.Profile{}, err
	}
	if info.Size() < MinFileSize {
		return prefs.Profile{}, errSkipped
	}

	br := bufio.NewReader(f)
	if err := readMagic(br); err != nil {
		if errors.Is(err, ErrBadHeader) {
			return prefs.Profile{}, errSkipped
		}
		return prefs.Profile{}, err
	}

	log.Printf("Processing file: %s", name)
	return d.parse(br)
}

// Import parses profile text from r and stores it, replacing any profile with
// the same name. On any error nothing is stored.
func (d *Directory) Import(source string, r io.Reader) (prefs.Profile, error) {
	br := bufio.NewReader(r)
	if err := readMagic(br); err != nil {
		return prefs.Profile{}, &ParseError{File: source, Err: err}
	}
	p, err := d.parse(br)
	if err != nil {
		return prefs.Profile{}, &ParseError{File: source, Err: err}
	}
	return p, nil
}

func readMagic(r io.Reader) error {
	hdr := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrBadHeader
		}
		return err
	}
	if string(hdr) != Magic {
		return ErrBadHeader
	}
	return nil
}

// parse streams tokens from r into a new profile.
func (d *Directory) parse(r *bufio.Reader) (prefs.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		tx *transaction
		sc = token.NewScanner()
	)
	fail := func(err error) (prefs.Profile, error) {
		if tx != nil {
			return prefs.Profile{}, d.discard(tx, err)
		}
		return prefs.Profile{}, err
	}

	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fail(err)
		}
		tok := sc.Scan(c)
		if tok == token.NotAToken {
			continue
		}

		if tok == token.Name {
			if tx != nil {
				return fail(ErrDuplicateName)
			}
			name, err := token.ReadQuotedString(r, token.MaxNameLength)
			if err != nil {
				return fail(fmt.Errorf("profile name: %w", err))
			}
			if tx, err = d.begin(name); err != nil {
				return fail(err)
			}
			continue
		}

		if tok.Kind() == token.KindComment {
			if err := token.SkipLine(r); err != nil && !errors.Is(err, io.EOF) {
				return fail(err)
			}
			continue
		}

		in := profile.Instruction{Token: tok}
		switch tok.Kind() {
		case token.KindString:
			if in.Text, err = token.ReadQuotedString(r, token.MaxDisplayLength); err != nil {
				return fail(fmt.Errorf("%v string: %w", tok, err))
			}
		case token.KindNumbers:
			for i := 0; i < tok.Args(); i++ {
				if in.Args[i], err = token.ReadNumber(r); err != nil {
					return fail(fmt.Errorf("%v number %d/%d: %w", tok, i+1, tok.Args(), err))
				}
			}
		}

		if tx == nil {
			return fail(fmt.Errorf("%w: %v before name", ErrNoName, tok))
		}
		if err := tx.append(in); err != nil {
			return fail(err)
		}
	}

	if tx == nil {
		return fail(ErrNoName)
	}
	return d.commit(tx)
}
