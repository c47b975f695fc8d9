// Package groundtruth reads annotated tag positions and scores pipeline output
// against them.
package groundtruth

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/tagtune/internal/fsutil"
)

// FileExtension is the extension of ground truth documents.
const FileExtension = ".tdat"

// maxFileSize bounds ground truth documents read from disk.
const maxFileSize = 64 * 1024 * 1024

// Annotation is one hand-labelled tag. Major and Minor are the semi-axes of
// the tag outline in pixels; ID holds the data bits (0 or 1), bit 0 first.
type Annotation struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Major float64 `json:"major"`
	Minor float64 `json:"minor"`
	Angle float64 `json:"angle"`
	ID    []int   `json:"id"`
}

// Bits returns ID as booleans.
func (a Annotation) Bits() []bool {
	out := make([]bool, len(a.ID))
	for i, b := range a.ID {
		out[i] = b != 0
	}
	return out
}

// Frame holds the annotations of one image.
type Frame struct {
	Tags []Annotation `json:"tags"`
}

// File is a parsed ground truth document. Frames[i] annotates Filenames[i].
type File struct {
	Path      string   `json:"-"`
	Filenames []string `json:"filenames"`
	Frames    []Frame  `json:"frames"`
}

// Parse decodes and validates a ground truth document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse ground truth JSON: %w", err)
	}
	if len(f.Filenames) != len(f.Frames) {
		return nil, fmt.Errorf("ground truth lists %d filenames but %d frames", len(f.Filenames), len(f.Frames))
	}
	for i, fr := range f.Frames {
		for j, a := range fr.Tags {
			for _, b := range a.ID {
				if b != 0 && b != 1 {
					return nil, fmt.Errorf("frame %d tag %d: id bits must be 0 or 1, got %d", i, j, b)
				}
			}
			if a.Major < 0 || a.Minor < 0 {
				return nil, fmt.Errorf("frame %d tag %d: negative axis", i, j)
			}
		}
	}
	return &f, nil
}

// Load reads and parses the ground truth document at path.
func Load(fs fsutil.FileSystem, path string) (*File, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat ground truth %s: %w", path, err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("ground truth %s too large: %d bytes (max %d)", path, info.Size(), maxFileSize)
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ground truth %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// FrameIndex returns the frame annotating filename. Only the base name
// is compared.
func (f *File) FrameIndex(filename string) (int, bool) {
	base := filepath.Base(filename)
	for i, name := range f.Filenames {
		if filepath.Base(name) == base {
			return i, true
		}
	}
	return -1, false
}

// NumTags returns the number of annotations on frame, or 0 if out of range.
func (f *File) NumTags(frame int) int {
	if frame < 0 || frame >= len(f.Frames) {
		return 0
	}
	return len(f.Frames[frame].Tags)
}
