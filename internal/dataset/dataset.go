// Package dataset discovers annotated image sets on disk and turns them into
// tuning corpora.
package dataset

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/tagtune/internal/fsutil"
	"github.com/banshee-data/tagtune/internal/groundtruth"
	"github.com/banshee-data/tagtune/internal/monitoring"
	"github.com/banshee-data/tagtune/internal/pipeline"
	"github.com/banshee-data/tagtune/internal/tuning"
)

// ImageExtension replaces the extension of annotated file names when looking
// for the image on disk.
const ImageExtension = ".jpeg"

// ErrInvalidDataPath is returned when the data folder does not exist or holds
// no ground truth.
var ErrInvalidDataPath = errors.New("invalid data path")

// ImageRef locates one annotated image.
type ImageRef struct {
	Path  string
	Frame int
}

// Task is one ground truth file and the images it annotates that exist.
type Task struct {
	Truth  *groundtruth.File
	Images []ImageRef
}

// Dir returns the folder holding the ground truth file.
func (t Task) Dir() string { return filepath.Dir(t.Truth.Path) }

// Discover loads every ground truth file below root. Annotated images that
// cannot be found are skipped with a log line; ground truth files without
// any image are dropped.
func Discover(fs fsutil.FileSystem, root string) ([]Task, error) {
	info, err := fs.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a folder", ErrInvalidDataPath, root)
	}
	paths, err := fs.Glob(root, groundtruth.FileExtension)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no %s files under %s", ErrInvalidDataPath, groundtruth.FileExtension, root)
	}

	var tasks []Task
	for _, p := range paths {
		truth, err := groundtruth.Load(fs, p)
		if err != nil {
			return nil, err
		}
		task := Task{Truth: truth}
		for i, name := range truth.Filenames {
			img, ok := ResolveImage(fs, filepath.Dir(p), name)
			if !ok {
				monitoring.Logf("skipping %s from %s: image not found", name, p)
				continue
			}
			task.Images = append(task.Images, ImageRef{Path: img, Frame: i})
		}
		if len(task.Images) == 0 {
			monitoring.Logf("skipping %s: no images", p)
			continue
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no annotated images under %s", ErrInvalidDataPath, root)
	}
	return tasks, nil
}

// ResolveImage finds the image annotated as name next to a ground truth file
// in dir. The name with its extension replaced by ImageExtension is tried
// first, then the name as given.
func ResolveImage(fs fsutil.FileSystem, dir, name string) (string, bool) {
	base := filepath.Base(name)
	candidates := []string{
		filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+ImageExtension),
		filepath.Join(dir, base),
	}
	if filepath.IsAbs(name) {
		candidates = append(candidates, name)
	}
	for _, c := range candidates {
		if fs.Exists(c) {
			return c, true
		}
	}
	return "", false
}

// Folder groups the tasks stored in one directory.
type Folder struct {
	Dir   string
	Tasks []Task
}

// ByFolder groups tasks by the directory of their ground truth file, in
// lexical order.
func ByFolder(tasks []Task) []Folder {
	idx := make(map[string]int)
	var out []Folder
	for _, t := range tasks {
		d := t.Dir()
		i, ok := idx[d]
		if !ok {
			i = len(out)
			idx[d] = i
			out = append(out, Folder{Dir: d})
		}
		out[i].Tasks = append(out[i].Tasks, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out
}

// ImageCache decodes each image once and keeps the grayscale version.
type ImageCache struct {
	mu     sync.Mutex
	images map[string]*image.Gray
	decode func(path string) (image.Image, error)
}

// NewImageCache returns a cache decoding files with imaging.Open.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]*image.Gray),
		decode: func(path string) (image.Image, error) { return imaging.Open(path) },
	}
}

// Load returns the grayscale image stored at path.
func (c *ImageCache) Load(path string) (*image.Gray, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.images[path]; ok {
		return img, nil
	}
	img, err := c.decode(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", path, err)
	}
	g := pipeline.ToGray(img)
	c.images[path] = g
	return g, nil
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// BuildCorpus loads the images of tasks and returns one partition per ground
// truth file, each with its own evaluator.
func BuildCorpus(tasks []Task, cache *ImageCache) (*tuning.Corpus, error) {
	parts := make([]*tuning.Partition, 0, len(tasks))
	for _, t := range tasks {
		p := &tuning.Partition{Name: t.Truth.Path, Evaluator: groundtruth.NewEvaluator(t.Truth)}
		for _, ref := range t.Images {
			img, err := cache.Load(ref.Path)
			if err != nil {
				return nil, err
			}
			p.Items = append(p.Items, tuning.Item{Path: ref.Path, Frame: ref.Frame, Image: img})
		}
		parts = append(parts, p)
	}
	return tuning.NewCorpus(parts...)
}
