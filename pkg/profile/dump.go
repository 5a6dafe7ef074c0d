package profile

import (
	"fmt"
	"io"

	"github.com/itohio/goreflow/pkg/token"
)

// Dump writes a readable listing of the profile behind cur, one instruction
// per line.
func Dump(w io.Writer, cur *Cursor) error {
	if _, err := fmt.Fprintln(w, "---- Start of profile ----"); err != nil {
		return err
	}
	for {
		in, err := cur.Next()
		if err != nil {
			return err
		}
		if in.Token == token.EndOfProfile {
			break
		}
		if _, err := fmt.Fprintln(w, in); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "---- End of profile ----")
	return err
}

// ReadAll decodes every instruction of the profile behind cur.
func ReadAll(cur *Cursor) ([]Instruction, error) {
	var out []Instruction
	for {
		in, err := cur.Next()
		if err != nil {
			return out, err
		}
		if in.Token == token.EndOfProfile {
			return out, nil
		}
		out = append(out, in)
	}
}
