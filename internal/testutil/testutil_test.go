package testutil

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertHelpersPassingPaths(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
	AssertError(t, errors.New("test error"))
}

func TestBitsMostSignificantFirst(t *testing.T) {
	bits := Bits(0b100000000011)
	assert.True(t, bits[0])
	assert.False(t, bits[1])
	assert.True(t, bits[10])
	assert.True(t, bits[11])
}

func TestRenderTagLayout(t *testing.T) {
	img := NewCanvas(100, 100, 128)
	RenderTag(img, TagSpec{X: 50, Y: 50, Radius: 40, Angle: 0, Bits: Bits(0xFFF)})

	at := func(x, y int) uint8 { return img.Pix[y*img.Stride+x] }
	assert.Equal(t, uint8(255), at(50, 55), "white half lies below the x axis")
	assert.Equal(t, uint8(0), at(50, 45), "black half lies above the x axis")
	assert.Equal(t, uint8(255), at(74, 52), "data cell")
	assert.Equal(t, uint8(0), at(86, 50), "border ring")
	assert.Equal(t, uint8(128), at(2, 2), "background")
}

func TestWriteDataset(t *testing.T) {
	dir := t.TempDir()
	path := WriteDataset(t, dir, "truth.tdat", []FrameSpec{{
		Name: "frame0.png", Width: 120, Height: 120,
		Tags: []TagSpec{{X: 60, Y: 60, Radius: 30, Bits: Bits(5)}},
	}})

	assert.FileExists(t, filepath.Join(dir, "frame0.jpeg"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc tdatFile
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, []string{"frame0.png"}, doc.Filenames)
	require.Len(t, doc.Frames, 1)
	assert.Equal(t, 1, doc.Frames[0].Tags[0].ID[11])
}
