package render

import (
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

type faceKey struct {
	bold bool
	size int
}

// fontBook parses the Go fonts once and caches a face per (weight, pixel size).
type fontBook struct {
	regular *opentype.Font
	bold    *opentype.Font

	mu    sync.Mutex
	faces map[faceKey]font.Face
}

func newFontBook() (*fontBook, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &fontBook{regular: regular, bold: bold, faces: make(map[faceKey]font.Face)}, nil
}

// face returns the face for size pixels. The embedded fonts are known good, so a face
// creation failure is a programming error and panics.
func (b *fontBook) face(bold bool, size int) font.Face {
	if size < 6 {
		size = 6
	}
	key := faceKey{bold: bold, size: size}
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.faces[key]; ok {
		return f
	}
	src := b.regular
	if bold {
		src = b.bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		panic(fmt.Sprintf("render: create %d px face: %v", size, err))
	}
	b.faces[key] = f
	return f
}
