package stages

import (
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/autodevops/internal/gateway"
)

// FileSet is the ordered set of changed files under review. Paths are unique.
type FileSet []gateway.File

// NewFileSet drops later duplicates of a path, keeping order.
func NewFileSet(files []gateway.File) FileSet {
	seen := make(map[string]struct{}, len(files))
	out := make(FileSet, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f.Path]; ok {
			continue
		}
		seen[f.Path] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Encode serializes the set as a JSON array, preserving order.
func (fs FileSet) Encode() (string, error) {
	if fs == nil {
		fs = FileSet{}
	}
	data, err := json.Marshal(fs)
	if err != nil {
		return "", fmt.Errorf("encode file set: %w", err)
	}
	return string(data), nil
}

// DecodeFileSet parses the Fetch artifact.
func DecodeFileSet(text string) (FileSet, error) {
	var fs FileSet
	if err := json.Unmarshal([]byte(text), &fs); err != nil {
		return nil, fmt.Errorf("decode file set: %w", err)
	}
	return NewFileSet(fs), nil
}

// Lookup finds a file by path.
func (fs FileSet) Lookup(path string) (gateway.File, bool) {
	for _, f := range fs {
		if f.Path == path {
			return f, true
		}
	}
	return gateway.File{}, false
}

// Paths lists the file paths in order.
func (fs FileSet) Paths() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Path
	}
	return out
}
