package engine

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/cytoslide/slidecore/internal/region"
)

func writeTestPNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_OpenSimpleAndReadRegion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.png")
	writeTestPNG(t, path, 8, 8, color.RGBA{R: 50, G: 60, B: 70, A: 255})

	e := New(Config{NumWorkers: 2})
	defer e.Close()

	h, err := e.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close(h)

	res, err := e.ReadRegion(h, 0, 0, 0, 4, 4, region.PixelFormatBGRA)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	if res.Width != 4 || res.Height != 4 {
		t.Fatalf("dims = %dx%d, want 4x4", res.Width, res.Height)
	}
	// BGRA: blue channel first.
	if res.Pixel[2] != 50 {
		t.Errorf("red channel = %d, want 50", res.Pixel[2])
	}
}

func TestEngine_OpenReopenSharesHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.png")
	writeTestPNG(t, path, 4, 4, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	e := New(Config{NumWorkers: 1})
	defer e.Close()

	h1, err := e.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := e.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1.Image != h2.Image {
		t.Error("expected reopen to return the same underlying Image")
	}
	e.Close(h1)
	e.Close(h2)
}

func TestEngine_OpenUnknownExtensionFallsBackToOpenSlide(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.svs")
	if err := os.WriteFile(path, []byte("not a real svs"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New(Config{NumWorkers: 1})
	defer e.Close()

	if _, err := e.Open(path); err == nil {
		t.Fatal("expected an error opening a fake .svs without libopenslide present")
	}
}

func TestEngine_OpenMissingPath(t *testing.T) {
	e := New(Config{NumWorkers: 1})
	defer e.Close()

	if _, err := e.Open("/nonexistent/path/slide.tiff"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
