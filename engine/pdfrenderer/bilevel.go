package pdfrenderer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

// bilevelThreshold splits gray samples into black and white
const bilevelThreshold = 128.5

// renderCache holds the scratch memory a context reuses between pages.
// Flushing it gives the memory back to the runtime.
type renderCache struct {
	mu      sync.Mutex
	buffers []*bytes.Buffer
	gray    *image.Gray
}

func (c *renderCache) buffer() *bytes.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.buffers); n > 0 {
		buf := c.buffers[n-1]
		c.buffers = c.buffers[:n-1]
		buf.Reset()
		return buf
	}
	return new(bytes.Buffer)
}

func (c *renderCache) putBuffer(buf *bytes.Buffer) {
	c.mu.Lock()
	c.buffers = append(c.buffers, buf)
	c.mu.Unlock()
}

// scratch returns a gray image of the requested size, reusing the previous one when it fits
func (c *renderCache) scratch(w, h int) *image.Gray {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gray != nil && cap(c.gray.Pix) >= w*h {
		c.gray.Pix = c.gray.Pix[:w*h]
		c.gray.Stride = w
		c.gray.Rect = image.Rect(0, 0, w, h)
		return c.gray
	}
	c.gray = image.NewGray(image.Rect(0, 0, w, h))
	return c.gray
}

func (c *renderCache) flush() {
	c.mu.Lock()
	c.buffers = nil
	c.gray = nil
	c.mu.Unlock()
}

// retained reports how many encode buffers are parked in the cache
func (c *renderCache) retained() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}

// encodeBilevel converts src to a one channel black/white PNG. The returned
// image borrows a buffer from cache until it is freed.
func encodeBilevel(src image.Image, cache *renderCache) (*Image, error) {
	if src == nil {
		return nil, errors.New("failed to create pixmap: Unknown error")
	}
	gray := imaging.Grayscale(src)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("failed to create pixmap: empty page %dx%d", w, h)
	}

	bilevel := cache.scratch(w, h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w*4]
		out := bilevel.Pix[y*bilevel.Stride : y*bilevel.Stride+w]
		for x := range out {
			if float64(row[x*4]) > bilevelThreshold {
				out[x] = 255
			} else {
				out[x] = 0
			}
		}
	}

	buf := cache.buffer()
	if err := imaging.Encode(buf, bilevel, imaging.PNG); err != nil {
		cache.putBuffer(buf)
		return nil, fmt.Errorf("failed to create PNG buffer: %w", err)
	}

	return &Image{
		Data:     buf.Bytes(),
		Width:    w,
		Height:   h,
		Channels: 1,
		release:  func() { cache.putBuffer(buf) },
	}, nil
}

// freeImage is the FreeImage implementation shared by the backends
func freeImage(img *Image) {
	if img == nil {
		return
	}
	if img.release != nil {
		img.release()
		img.release = nil
	}
	img.Data = nil
}
