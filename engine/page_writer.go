package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// WrittenPage describes a page image stored on disk
type WrittenPage struct {
	Path   string
	Width  int
	Height int
}

// PageWriter stores rendered page PNGs, optionally scaled to a fixed width
type PageWriter struct {
	Width int // 0 keeps the rendered width
}

func pageFileName(page int) string {
	return fmt.Sprintf("page_%04d.png", page)
}

// Write stores the PNG bytes for page in dir. The bytes are not retained.
func (w PageWriter) Write(dir string, page int, data []byte, width, height int) (WrittenPage, error) {
	path := filepath.Join(dir, pageFileName(page))

	if w.Width <= 0 || w.Width == width {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return WrittenPage{}, fmt.Errorf("unable to write page %d: %w", page, err)
		}
		return WrittenPage{Path: path, Width: width, Height: height}, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return WrittenPage{}, fmt.Errorf("unable to decode page %d: %w", page, err)
	}
	// nearest neighbour keeps the page bilevel
	resized := imaging.Resize(img, w.Width, 0, imaging.NearestNeighbor)
	if err := imaging.Save(resized, path); err != nil {
		return WrittenPage{}, fmt.Errorf("unable to save page %d: %w", page, err)
	}
	bounds := resized.Bounds()
	return WrittenPage{Path: path, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}
