package mrxs

import (
	"bytes"
	"compress/zlib"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeToBGRA_PNGByteOrder(t *testing.T) {
	data := encodePNG(t, 2, 2, color.RGBA{R: 100, G: 150, B: 200, A: 255})
	pix, w, h, err := decodeToBGRA(imageFormatPNG, data)
	if err != nil {
		t.Fatalf("decodeToBGRA: %v", err)
	}
	if w != 2 || h != 2 {
		t.Fatalf("dimensions = %dx%d, want 2x2", w, h)
	}
	if pix[0] != 200 || pix[1] != 150 || pix[2] != 100 || pix[3] != 255 {
		t.Errorf("first pixel BGRA = %v, want (200,150,100,255)", pix[:4])
	}
}

func TestDecodeToBGRA_UnknownFormatProbesPNG(t *testing.T) {
	data := encodePNG(t, 1, 1, color.RGBA{R: 1, G: 2, B: 3, A: 4})
	_, w, h, err := decodeToBGRA(imageFormatUnknown, data)
	if err != nil {
		t.Fatalf("decodeToBGRA: %v", err)
	}
	if w != 1 || h != 1 {
		t.Errorf("dimensions = %dx%d, want 1x1", w, h)
	}
}

func TestDecodeToBGRA_GarbageDataErrors(t *testing.T) {
	if _, _, _, err := decodeToBGRA(imageFormatJPEG, []byte("not an image")); err == nil {
		t.Fatal("expected decode error for garbage JPEG data")
	}
	if _, _, _, err := decodeToBGRA(imageFormatUnknown, []byte("not an image")); err == nil {
		t.Fatal("expected decode error when no registered decoder matches")
	}
}

func TestDecompressSlidePositions(t *testing.T) {
	var raw bytes.Buffer
	// Two records: {flag:1, x:100, y:-1}, {flag:0, x:0, y:5}.
	raw.Write([]byte{1, 100, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})
	raw.Write([]byte{0, 0, 0, 0, 0, 5, 0, 0, 0})

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}

	positions, err := decompressSlidePositions(compressed.Bytes())
	if err != nil {
		t.Fatalf("decompressSlidePositions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("len(positions) = %d, want 2", len(positions))
	}
	if positions[0].Flag != 1 || positions[0].X != 100 || positions[0].Y != -1 {
		t.Errorf("positions[0] = %+v, want {Flag:1 X:100 Y:-1}", positions[0])
	}
	if positions[1].Flag != 0 || positions[1].X != 0 || positions[1].Y != 5 {
		t.Errorf("positions[1] = %+v, want {Flag:0 X:0 Y:5}", positions[1])
	}
}

func TestDecompressSlidePositions_BadLengthErrors(t *testing.T) {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	zw.Write([]byte{1, 2, 3}) // not a multiple of 9
	zw.Close()

	if _, err := decompressSlidePositions(compressed.Bytes()); err == nil {
		t.Fatal("expected error for a stream length not a multiple of 9")
	}
}

func TestDecompressSlidePositions_NotZlibErrors(t *testing.T) {
	if _, err := decompressSlidePositions([]byte("not zlib data")); err == nil {
		t.Fatal("expected error for non-zlib input")
	}
}
