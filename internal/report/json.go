package report

import (
	"encoding/json"
	"io"

	"github.com/plorenz/dupfind/internal/scan"
)

// JSONEmitter collects duplicate groups and writes them as one JSON array on
// Close. It is a parallel consumer of the same reporter data flow as the
// text emitter.
type JSONEmitter struct {
	w      io.Writer
	groups []jsonGroup
	cur    *jsonGroup

	// Groups counts emitted groups.
	Groups int
}

type jsonGroup struct {
	Size  int64    `json:"size"`
	Files []string `json:"files"`
}

// NewJSONEmitter creates a JSON emitter writing to w.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{w: w}
}

func (j *JSONEmitter) BeginGroup(size int64) {
	j.groups = append(j.groups, jsonGroup{Size: size})
	j.cur = &j.groups[len(j.groups)-1]
	j.Groups++
}

func (j *JSONEmitter) File(ref *scan.FileRef) {
	j.cur.Files = append(j.cur.Files, ref.DisplayPath('\n'))
}

func (j *JSONEmitter) EndGroup() {
	j.cur = nil
}

func (j *JSONEmitter) Close() error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	if j.groups == nil {
		return enc.Encode([]jsonGroup{})
	}
	return enc.Encode(j.groups)
}
