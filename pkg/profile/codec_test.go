package profile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/itohio/goreflow/pkg/flash"
	"github.com/itohio/goreflow/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCodec(t *testing.T) (*Codec, *flash.Memory) {
	t.Helper()
	mem := flash.NewMemory(128)
	store, err := flash.NewStore(mem, flash.Layout{FirstProfileBlock: 64, BlocksPerProfile: 16, MaxProfiles: 4})
	require.NoError(t, err)
	return NewCodec(store), mem
}

func writeProfile(t *testing.T, c *Codec, start uint16, ins []Instruction) *Writer {
	t.Helper()
	require.NoError(t, c.Store().EraseRun(start))
	w, err := c.NewWriter(start)
	require.NoError(t, err)
	require.Equal(t, start, w.Start())
	for _, in := range ins {
		require.NoError(t, w.Append(in))
	}
	require.NoError(t, w.Finish())
	return w
}

func readProfile(t *testing.T, c *Codec, start uint16) []Instruction {
	t.Helper()
	cur, err := c.Open(start)
	require.NoError(t, err)
	require.Equal(t, start, cur.Start())
	got, err := ReadAll(cur)
	require.NoError(t, err)
	return got
}

func TestRoundTrip_AllArities(t *testing.T) {
	c, _ := newCodec(t)

	ins := []Instruction{
		{Token: token.Deviation, Args: [3]uint16{15}},
		{Token: token.MaxTemperature, Args: [3]uint16{260}},
		{Token: token.MaxDuty, Args: [3]uint16{100, 80, 60}},
		{Token: token.Bias, Args: [3]uint16{100, 80, 20}},
		{Token: token.Display, Text: "Preheat"},
		{Token: token.Display, Text: ""},
		{Token: token.ConvectionFanOn},
		{Token: token.InitializeTimer, Args: [3]uint16{300}},
		{Token: token.StartTimer},
		{Token: token.RampTemperature, Args: [3]uint16{150, 60}},
		{Token: token.Maintain, Args: [3]uint16{150, 90}},
		{Token: token.ElementDutyCycle, Args: [3]uint16{65535, 0, 1}},
		{Token: token.WaitUntilAbove, Args: [3]uint16{217}},
		{Token: token.DoorPercentage, Args: [3]uint16{50, 10}},
		{Token: token.OpenDoor, Args: [3]uint16{5}},
		{Token: token.CoolingFanOn},
		{Token: token.WaitUntilBelow, Args: [3]uint16{50}},
		{Token: token.CloseDoor, Args: [3]uint16{1}},
		{Token: token.WaitFor, Args: [3]uint16{2}},
		{Token: token.CoolingFanOff},
		{Token: token.ConvectionFanOff},
		{Token: token.StopTimer},
		{Token: token.PlayTune},
		{Token: token.PlayBeep},
	}

	w := writeProfile(t, c, 80, ins)
	assert.Equal(t, 1, w.Blocks())
	assert.Equal(t, len(ins), w.Count())
	assert.Equal(t, ins, readProfile(t, c, 80))
}

func TestRoundTrip_Continuation(t *testing.T) {
	c, mem := newCodec(t)

	var ins []Instruction
	for i := 0; i < 200; i++ {
		ins = append(ins, Instruction{Token: token.Bias, Args: [3]uint16{uint16(i), uint16(i * 2), uint16(i * 3)}})
		if i%7 == 0 {
			ins = append(ins, Instruction{Token: token.Display, Text: strings.Repeat("x", i%token.MaxDisplayLength)})
		}
		if i%5 == 0 {
			ins = append(ins, Instruction{Token: token.PlayBeep})
		}
	}

	w := writeProfile(t, c, 64, ins)
	assert.Greater(t, w.Blocks(), 1)
	assert.Equal(t, ins, readProfile(t, c, 64))

	for b := 0; b < w.Blocks(); b++ {
		assert.Equal(t, uint32(1), mem.WriteCount(uint16(64+b)), "block %d written once", 64+b)
	}
	assert.Zero(t, mem.WriteCount(uint16(64+w.Blocks())))
}

func TestWriter_DisplayTruncated(t *testing.T) {
	c, _ := newCodec(t)
	long := strings.Repeat("abcdefghij", 6)

	writeProfile(t, c, 64, []Instruction{{Token: token.Display, Text: long}})
	got := readProfile(t, c, 64)
	require.Len(t, got, 1)
	assert.Equal(t, long[:token.MaxDisplayLength], got[0].Text)
}

func TestWriter_BlockLimit(t *testing.T) {
	full := Instruction{Token: token.Display, Text: strings.Repeat("m", token.MaxDisplayLength)}

	tests := []struct {
		name    string
		entries int
		wantErr bool
	}{
		{name: "exactly sixteen blocks", entries: 96},
		{name: "seventeenth block", entries: 97, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mem := newCodec(t)
			require.NoError(t, c.Store().EraseRun(64))
			w, err := c.NewWriter(64)
			require.NoError(t, err)

			for i := 0; i < tt.entries; i++ {
				require.NoError(t, w.Append(full))
			}
			err = w.Finish()
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, 16, w.Blocks())
				return
			}

			assert.ErrorIs(t, err, ErrTooManyBlocks)
			assert.ErrorIs(t, w.Append(full), ErrTooManyBlocks, "error is sticky")
			assert.ErrorIs(t, w.Finish(), ErrTooManyBlocks)
			assert.Zero(t, mem.WriteCount(80), "next run untouched")
		})
	}
}

func TestWriter_Rejects(t *testing.T) {
	c, _ := newCodec(t)

	_, err := c.NewWriter(72)
	assert.ErrorIs(t, err, flash.ErrMisaligned)

	require.NoError(t, c.Store().EraseRun(64))
	w, err := c.NewWriter(64)
	require.NoError(t, err)
	assert.ErrorIs(t, w.AppendToken(token.Name), ErrBadToken)
	assert.ErrorIs(t, w.AppendToken(token.Comment1), ErrBadToken)
	assert.ErrorIs(t, w.AppendToken(token.EndOfProfile), ErrBadToken)

	require.NoError(t, w.AppendToken(token.RampTemperature, 150, 60))
	require.NoError(t, w.AppendString(token.Display, "hi"))
	require.NoError(t, w.Finish())
	assert.ErrorIs(t, w.AppendToken(token.PlayBeep), ErrFinished)
	assert.ErrorIs(t, w.Finish(), ErrFinished)
}

func TestCursor_EndRepeats(t *testing.T) {
	c, _ := newCodec(t)
	writeProfile(t, c, 64, []Instruction{{Token: token.StopTimer}})

	cur, err := c.Open(64)
	require.NoError(t, err)
	in, err := cur.Next()
	require.NoError(t, err)
	assert.Equal(t, token.StopTimer, in.Token)
	for i := 0; i < 3; i++ {
		in, err = cur.Next()
		require.NoError(t, err)
		assert.Equal(t, token.EndOfProfile, in.Token)
	}
}

func TestCursor_SecondOpenClosesFirst(t *testing.T) {
	c, _ := newCodec(t)
	writeProfile(t, c, 64, []Instruction{{Token: token.StopTimer}})
	writeProfile(t, c, 80, []Instruction{{Token: token.PlayBeep}})

	first, err := c.Open(64)
	require.NoError(t, err)
	second, err := c.Open(80)
	require.NoError(t, err)

	_, err = first.Next()
	assert.ErrorIs(t, err, ErrCursorClosed)
	in, err := second.Next()
	require.NoError(t, err)
	assert.Equal(t, token.PlayBeep, in.Token)
}

func TestCursor_BadStart(t *testing.T) {
	c, _ := newCodec(t)
	_, err := c.Open(70)
	assert.ErrorIs(t, err, flash.ErrMisaligned)
	_, err = c.Open(16)
	assert.ErrorIs(t, err, flash.ErrOutOfRange)
}

func TestCursor_RunLimit(t *testing.T) {
	c, _ := newCodec(t)
	require.NoError(t, c.Store().EraseRun(64))

	cont := make([]byte, flash.BlockSize)
	cont[0] = byte(token.NextFlashBlock)
	for b := uint16(64); b < 80; b++ {
		require.NoError(t, c.Store().WriteBlock(b, cont))
	}

	cur, err := c.Open(64)
	require.NoError(t, err)
	in, err := cur.Next()
	require.NoError(t, err)
	assert.Equal(t, token.EndOfProfile, in.Token)
}

func TestCursor_Corrupt(t *testing.T) {
	tests := []struct {
		name  string
		block []byte
	}{
		{name: "erased block", block: nil},
		{name: "not a token", block: []byte{0}},
		{name: "name token", block: []byte{byte(token.Name), 'x', 0}},
		{name: "unterminated string", block: func() []byte {
			b := make([]byte, flash.BlockSize)
			b[0] = byte(token.Display)
			for i := 1; i < len(b); i++ {
				b[i] = 'a'
			}
			return b
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newCodec(t)
			require.NoError(t, c.Store().EraseRun(64))
			if tt.block != nil {
				buf := make([]byte, flash.BlockSize)
				copy(buf, tt.block)
				require.NoError(t, c.Store().WriteBlock(64, buf))
			}

			cur, err := c.Open(64)
			require.NoError(t, err)
			_, err = cur.Next()
			assert.ErrorIs(t, err, ErrCorrupt)
			_, err = cur.Next()
			assert.ErrorIs(t, err, ErrCorrupt, "error is sticky")
		})
	}
}

func TestDump(t *testing.T) {
	c, _ := newCodec(t)
	writeProfile(t, c, 64, []Instruction{
		{Token: token.RampTemperature, Args: [3]uint16{150, 60}},
		{Token: token.Display, Text: "Soak"},
	})

	cur, err := c.Open(64)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, cur))
	assert.Equal(t, "---- Start of profile ----\n"+
		"Ramp temperature to 150C in 60 seconds\n"+
		"Display \"Soak\"\n"+
		"---- End of profile ----\n", buf.String())
}
