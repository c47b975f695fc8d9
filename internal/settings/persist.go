package settings

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/tagtune/internal/fsutil"
)

// CombinedFileName is the archival document holding every group.
const CombinedFileName = "settings.json"

// maxFileSize bounds settings documents read from disk.
const maxFileSize = 1 * 1024 * 1024

// FileNames maps each group to its per-stage settings file name.
var FileNames = map[string]string{
	GroupPreprocessor:  "psettings.json",
	GroupLocalizer:     "lsettings.json",
	GroupEllipseFitter: "esettings.json",
	GroupGridFitter:    "gsettings.json",
}

// Store reads and writes settings documents through a FileSystem.
type Store struct {
	fs fsutil.FileSystem
}

// NewStore returns a Store. A nil fs selects the OS filesystem.
func NewStore(fs fsutil.FileSystem) *Store {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Store{fs: fs}
}

func (st *Store) read(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}
	info, err := st.fs.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := st.fs.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return data, nil
}

// Load reads one stage settings file and overlays it onto defaults. Keys
// missing from the file keep their default values. defaults is not modified.
func (st *Store) Load(path string, defaults Settings) (Settings, error) {
	data, err := st.read(path)
	if err != nil {
		return nil, err
	}
	loaded := Settings{}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse settings JSON %s: %w", path, err)
	}
	out := defaults.Clone()
	out.Merge(loaded)
	return out, nil
}

// Save writes one stage's settings as an indented JSON object.
func (st *Store) Save(path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := st.fs.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", path, err)
	}
	return nil
}

// SaveCombined writes every group of b into one document nested by group name.
func (st *Store) SaveCombined(path string, b Bundle) error {
	data, err := json.MarshalIndent(b, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode combined settings: %w", err)
	}
	if err := st.fs.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write combined settings %s: %w", path, err)
	}
	return nil
}

// LoadCombined reads a combined document. Unknown groups are kept as-is.
func (st *Store) LoadCombined(path string) (Bundle, error) {
	data, err := st.read(path)
	if err != nil {
		return nil, err
	}
	b := Bundle{}
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse combined settings JSON %s: %w", path, err)
	}
	return b, nil
}

// SaveStageFiles writes one file per group present in b into dir.
func (st *Store) SaveStageFiles(dir string, b Bundle) error {
	for _, g := range Groups {
		s, ok := b[g]
		if !ok {
			continue
		}
		if err := st.Save(filepath.Join(dir, FileNames[g]), s); err != nil {
			return err
		}
	}
	return nil
}

// Existing returns the per-stage settings files found directly in dir, keyed
// by group.
func (st *Store) Existing(dir string) map[string]string {
	found := make(map[string]string)
	for _, g := range Groups {
		p := filepath.Join(dir, FileNames[g])
		info, err := st.fs.Stat(p)
		if err == nil && !info.IsDir() {
			found[g] = p
		}
	}
	return found
}
