package region

import (
	"testing"

	"github.com/cytoslide/slidecore/internal/arena"
	"github.com/cytoslide/slidecore/internal/loader"
	"github.com/cytoslide/slidecore/internal/pyramid"
	"github.com/cytoslide/slidecore/internal/workqueue"
)

// solidBackend decodes every tile as a solid color keyed by tile
// coordinate, so ReadRegion's blit math can be checked pixel-exactly.
type solidBackend struct {
	tileSize int32
	colorOf  func(x, y int32) byte
}

func (s *solidBackend) DecodeTile(level *pyramid.Level, x, y int32) ([]byte, bool, error) {
	c := s.colorOf(x, y)
	pix := make([]byte, int(s.tileSize)*int(s.tileSize)*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i+0] = c
		pix[i+1] = c
		pix[i+2] = c
		pix[i+3] = 255
	}
	return pix, false, nil
}

func (s *solidBackend) SubmitIndexing(level *pyramid.Level) error {
	level.SetNeedsIndexing(false)
	return nil
}

func (s *solidBackend) Close() error { return nil }

func newTestReader(tileSize int32) (*pyramid.Image, *Reader) {
	img := &pyramid.Image{Backend: pyramid.BackendSimple}
	img.Levels = []pyramid.Level{{
		Exists: true, TileCountX: 2, TileCountY: 2,
		TileWidth: tileSize, TileHeight: tileSize,
	}}
	img.Levels[0].InitTiles()

	alloc := arena.NewBlockAllocator(int(tileSize)*int(tileSize)*4, 0)
	lanes := workqueue.NewLanes(8, 8)
	cache := loader.New(alloc, lanes)
	return img, New(cache, lanes)
}

func TestReadRegion_WithinSingleTile(t *testing.T) {
	img, r := newTestReader(4)
	be := &solidBackend{tileSize: 4, colorOf: func(x, y int32) byte { return 100 }}

	res, err := r.ReadRegion(img, be, 0, 1, 1, 2, 2, PixelFormatBGRA)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	if res.Width != 2 || res.Height != 2 {
		t.Fatalf("result dims = %dx%d, want 2x2", res.Width, res.Height)
	}
	for i := 0; i < len(res.Pixel); i += 4 {
		if res.Pixel[i] != 100 {
			t.Fatalf("pixel %d = %d, want 100", i/4, res.Pixel[i])
		}
	}
}

func TestReadRegion_SpansFourTiles(t *testing.T) {
	img, r := newTestReader(4)
	be := &solidBackend{tileSize: 4, colorOf: func(x, y int32) byte {
		return byte(10 + x*20 + y*40)
	}}

	res, err := r.ReadRegion(img, be, 0, 2, 2, 4, 4, PixelFormatBGRA)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}

	// top-left quadrant of the result should be tile (0,0)'s color.
	topLeft := res.Pixel[0]
	if want := byte(10); topLeft != want {
		t.Errorf("top-left = %d, want %d", topLeft, want)
	}

	// bottom-right quadrant should be tile (1,1)'s color.
	idx := (3*int(res.Width) + 3) * 4
	bottomRight := res.Pixel[idx]
	if want := byte(10 + 20 + 40); bottomRight != want {
		t.Errorf("bottom-right = %d, want %d", bottomRight, want)
	}
}

func TestReadRegion_OutOfRangeLevel(t *testing.T) {
	img, r := newTestReader(4)
	be := &solidBackend{tileSize: 4, colorOf: func(x, y int32) byte { return 0 }}

	if _, err := r.ReadRegion(img, be, 5, 0, 0, 2, 2, PixelFormatBGRA); err == nil {
		t.Fatal("expected error for out-of-range level")
	}
}

func TestReadRegion_ZeroSizeReturnsEmptyResult(t *testing.T) {
	img, r := newTestReader(4)
	be := &solidBackend{tileSize: 4, colorOf: func(x, y int32) byte { return 0 }}

	res, err := r.ReadRegion(img, be, 0, 0, 0, 0, 0, PixelFormatBGRA)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	if len(res.Pixel) != 0 {
		t.Errorf("expected empty pixel buffer, got %d bytes", len(res.Pixel))
	}
}

func TestReadRegion_LuminanceConversion(t *testing.T) {
	img, r := newTestReader(4)
	// R=40, G=60, B=20: Y = (40 + 60 + 60 + 20) / 4 = 45.
	be := &rgbBackend{tileSize: 4, r: 40, g: 60, b: 20}
	res, err := r.ReadRegion(img, be, 0, 0, 0, 2, 2, PixelFormatLuminanceF32)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	if res.Format != PixelFormatLuminanceF32 {
		t.Fatalf("Format = %v, want PixelFormatLuminanceF32", res.Format)
	}
	if len(res.Luminance) != 4 {
		t.Fatalf("len(Luminance) = %d, want 4", len(res.Luminance))
	}
	for i, y := range res.Luminance {
		if y != 45 {
			t.Errorf("Luminance[%d] = %v, want 45", i, y)
		}
	}
	if len(res.Pixel) != 0 {
		t.Errorf("expected Pixel unset when Format is luminance, got %d bytes", len(res.Pixel))
	}
}

// rgbBackend decodes every tile to a fixed BGRA color, for testing the
// luminance conversion path against a known R/G/B triple.
type rgbBackend struct {
	tileSize int32
	r, g, b  byte
}

func (s *rgbBackend) DecodeTile(level *pyramid.Level, x, y int32) ([]byte, bool, error) {
	pix := make([]byte, int(s.tileSize)*int(s.tileSize)*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i+0] = s.b
		pix[i+1] = s.g
		pix[i+2] = s.r
		pix[i+3] = 255
	}
	return pix, false, nil
}

func (s *rgbBackend) SubmitIndexing(level *pyramid.Level) error {
	level.SetNeedsIndexing(false)
	return nil
}

func (s *rgbBackend) Close() error { return nil }

func TestReadRegion_UnsupportedPixelFormatErrors(t *testing.T) {
	img, r := newTestReader(4)
	be := &solidBackend{tileSize: 4, colorOf: func(x, y int32) byte { return 0 }}

	if _, err := r.ReadRegion(img, be, 0, 0, 0, 2, 2, PixelFormat(99)); err == nil {
		t.Fatal("expected error for an unrecognized pixel format")
	}
}
