package report

import (
	"bufio"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/plorenz/dupfind/internal/scan"
)

// ANSI escapes wrapping the size header and paths on terminals.
const (
	ansiSize  = "\x1b[33m"
	ansiPath  = "\x1b[36m"
	ansiReset = "\x1b[0m"
)

// TextEmitter prints duplicate groups as path lists. Every path is
// terminated by the record separator; groups are separated by an additional
// empty line.
type TextEmitter struct {
	w *bufio.Writer

	// Sized prints a human-readable size header before each group.
	Sized bool

	// RecordSep terminates each printed path (default '\n').
	RecordSep byte

	// Color wraps the size and paths in escape sequences (terminal output).
	Color bool

	// Groups counts emitted groups.
	Groups int
}

// NewTextEmitter creates a text emitter writing to w.
func NewTextEmitter(w io.Writer, sized bool, recordSep byte, color bool) *TextEmitter {
	if recordSep == 0 {
		recordSep = '\n'
	}
	return &TextEmitter{
		w:         bufio.NewWriter(w),
		Sized:     sized,
		RecordSep: recordSep,
		Color:     color,
	}
}

func (t *TextEmitter) BeginGroup(size int64) {
	t.Groups++
	if !t.Sized {
		return
	}
	if t.Color {
		t.w.WriteString(ansiSize)
	}
	t.w.WriteString(humanize.IBytes(uint64(size)))
	if t.Color {
		t.w.WriteString(ansiReset)
	}
	t.w.WriteByte('\n')
}

func (t *TextEmitter) File(ref *scan.FileRef) {
	if t.Color {
		t.w.WriteString(ansiPath)
	}
	t.w.WriteString(ref.DisplayPath(t.RecordSep))
	if t.Color {
		t.w.WriteString(ansiReset)
	}
	t.w.WriteByte(t.RecordSep)
}

func (t *TextEmitter) EndGroup() {
	t.w.WriteByte('\n')
}

func (t *TextEmitter) Close() error {
	return t.w.Flush()
}
