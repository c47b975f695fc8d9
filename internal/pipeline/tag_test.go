package pipeline

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodingID(t *testing.T) {
	d := Decoding{Bits: []bool{true, false, true}}
	assert.Equal(t, 5, d.ID())
	assert.Equal(t, 0, Decoding{}.ID())
}

func TestTagBestPrefersLowestGridError(t *testing.T) {
	tag := Tag{Candidates: []Candidate{
		{Ellipse: Ellipse{Vote: 900}},
		{Ellipse: Ellipse{Vote: 100}, Grid: &Grid{Error: 0.3}},
		{Ellipse: Ellipse{Vote: 50}, Grid: &Grid{Error: 0.1}},
	}}
	best := tag.Best()
	require.NotNil(t, best)
	assert.Equal(t, 50, best.Ellipse.Vote)
}

func TestTagBestFallsBackToVote(t *testing.T) {
	tag := Tag{Candidates: []Candidate{
		{Ellipse: Ellipse{Vote: 100}},
		{Ellipse: Ellipse{Vote: 900}},
	}}
	assert.Equal(t, 900, tag.Best().Ellipse.Vote)
	assert.Nil(t, (&Tag{}).Best())
}

func TestCloneTagsIsDeep(t *testing.T) {
	tags := []Tag{{
		ID:  1,
		Box: image.Rect(0, 0, 10, 10),
		Candidates: []Candidate{{
			Grid:     &Grid{Error: 0.2},
			Decoding: &Decoding{Bits: []bool{true}},
		}},
	}}
	clone := CloneTags(tags)
	clone[0].Candidates[0].Grid.Error = 0.9
	clone[0].Candidates[0].Decoding.Bits[0] = false
	clone[0].Candidates = append(clone[0].Candidates, Candidate{})

	assert.Equal(t, 0.2, tags[0].Candidates[0].Grid.Error)
	assert.True(t, tags[0].Candidates[0].Decoding.Bits[0])
	assert.Len(t, tags[0].Candidates, 1)
}

func TestDropEmpty(t *testing.T) {
	tags := []Tag{{ID: 0}, {ID: 1, Candidates: []Candidate{{}}}, {ID: 2}}
	got := DropEmpty(tags)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)
	assert.Len(t, tags, 3)
}
