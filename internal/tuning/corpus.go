package tuning

import (
	"fmt"
	"image"

	"github.com/banshee-data/tagtune/internal/groundtruth"
	"github.com/banshee-data/tagtune/internal/pipeline"
)

// Evaluator scores pipeline output of one frame at a time against a ground
// truth file. *groundtruth.Evaluator implements it.
type Evaluator interface {
	EvaluateLocalizer(frame int, tags []pipeline.Tag)
	EvaluateEllipseFitter(tags []pipeline.Tag)
	EvaluateGridFitter(tags []pipeline.Tag)
	EvaluateDecoder(tags []pipeline.Tag)
	LocalizerResults() groundtruth.DetectionResults
	EllipseFitterResults() groundtruth.DetectionResults
	DecoderResults() groundtruth.DecoderResults
	Reset()
}

// Item is one annotated image. Image and Tags are shared between
// evaluations and must not be modified.
type Item struct {
	Path  string
	Frame int
	Image *image.Gray
	// Tags is the upstream stage output for this image, if the stage being
	// scored needs one.
	Tags []pipeline.Tag
}

// Partition is the set of items annotated by one ground truth file.
type Partition struct {
	Name      string
	Evaluator Evaluator
	Items     []Item
}

// Corpus is the data an objective is scored on.
type Corpus struct {
	Partitions []*Partition
}

// NewCorpus drops empty partitions and fails if no item is left.
func NewCorpus(parts ...*Partition) (*Corpus, error) {
	c := &Corpus{}
	for _, p := range parts {
		if p == nil || len(p.Items) == 0 {
			continue
		}
		if p.Evaluator == nil {
			return nil, fmt.Errorf("partition %s has no evaluator", p.Name)
		}
		c.Partitions = append(c.Partitions, p)
	}
	if len(c.Partitions) == 0 {
		return nil, ErrEmptyCorpus
	}
	return c, nil
}

// Len returns the number of items.
func (c *Corpus) Len() int {
	n := 0
	for _, p := range c.Partitions {
		n += len(p.Items)
	}
	return n
}

// Derive returns a corpus over the same images and evaluators whose items
// carry the tags fn produces. It is used to hand one stage's output to the
// next stage.
func (c *Corpus) Derive(fn func(it Item) []pipeline.Tag) *Corpus {
	out := &Corpus{Partitions: make([]*Partition, len(c.Partitions))}
	for i, p := range c.Partitions {
		np := &Partition{Name: p.Name, Evaluator: p.Evaluator, Items: make([]Item, len(p.Items))}
		for j, it := range p.Items {
			it.Tags = fn(it)
			np.Items[j] = it
		}
		out.Partitions[i] = np
	}
	return out
}

// Subset returns the corpus restricted to the named partitions.
func (c *Corpus) Subset(names ...string) (*Corpus, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var parts []*Partition
	for _, p := range c.Partitions {
		if want[p.Name] {
			parts = append(parts, p)
		}
	}
	return NewCorpus(parts...)
}
