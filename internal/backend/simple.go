package backend

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/bmp"

	"github.com/gen2brain/webp"

	"github.com/cytoslide/slidecore/internal/pyramid"
	"github.com/cytoslide/slidecore/internal/slideerr"
)

// simpleReader backs a single already-compressed raster (PNG, JPEG, BMP,
// WebP) as a one-level, one-tile pyramid.Image, the fallback path
// spec.md §4.4.c names for formats with no pyramid structure at all.
// Adapted from the teacher's encode.DecodeImage format dispatch.
type simpleReader struct {
	pix        []byte
	w, h       int
}

var _ Backend = (*simpleReader)(nil)

// OpenSimple decodes path as a single raster image and wraps it as a
// one-tile, one-level pyramid.Image covering the whole image.
func OpenSimple(path string) (*pyramid.Image, Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading %s: %v", slideerr.ErrIoError, path, err)
	}

	img, err := decodeAny(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", slideerr.ErrUnsupportedFormat, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, w*h*4)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			pix[i+0] = byte(bl >> 8)
			pix[i+1] = byte(g >> 8)
			pix[i+2] = byte(r >> 8)
			pix[i+3] = byte(a >> 8)
			i += 4
		}
	}

	r := &simpleReader{pix: pix, w: w, h: h}

	pimg := &pyramid.Image{Backend: pyramid.BackendSimple}
	pimg.CloseHandle = r.Close
	pimg.WidthPixels, pimg.HeightPixels = int64(w), int64(h)
	pimg.Levels = make([]pyramid.Level, 1)
	lvl := &pimg.Levels[0]
	lvl.Exists = true
	lvl.BackingIndex = 0
	lvl.TileWidth, lvl.TileHeight = int32(w), int32(h)
	lvl.TileCountX, lvl.TileCountY = 1, 1
	lvl.InitTiles()

	return pimg, r, nil
}

func decodeAny(data []byte) (image.Image, error) {
	if img, err := png.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := bmp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return webp.Decode(bytes.NewReader(data))
}

// DecodeTile implements Backend: the whole raster is tile (0,0) of level 0.
func (r *simpleReader) DecodeTile(level *pyramid.Level, x, y int32) ([]byte, bool, error) {
	if x != 0 || y != 0 {
		return nil, true, nil
	}
	return r.pix, false, nil
}

// SubmitIndexing implements Backend; a simple raster never needs indexing.
func (r *simpleReader) SubmitIndexing(level *pyramid.Level) error {
	level.SetNeedsIndexing(false)
	return nil
}

// Close implements Backend; there is no open handle to release (the file
// was read fully into memory at Open time).
func (r *simpleReader) Close() error { return nil }
