package mrxs

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"

	"github.com/gen2brain/webp"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// decodeToBGRA decodes one tile/auxiliary-image payload to a tightly
// packed BGRA buffer, dispatching on the level's declared IMAGE_FORMAT
// the way original_source's mrxs_decode_tile_to_bgra does (libjpeg for
// JPEG, stbi for PNG/BMP). A format of imageFormatUnknown falls back to
// probing the registered stdlib/ecosystem decoders in turn, which also
// covers WebP-encoded thumbnail/barcode rasters some scanner firmware
// versions emit instead of PNG.
func decodeToBGRA(format imageFormat, data []byte) (pix []byte, w, h int, err error) {
	var img image.Image
	switch format {
	case imageFormatJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case imageFormatPNG:
		img, err = png.Decode(bytes.NewReader(data))
	case imageFormatBMP:
		img, err = bmp.Decode(bytes.NewReader(data))
	default:
		img, err = decodeUnknownFormat(data)
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: MRXS tile decode: %v", slideerr.ErrMalformedContainer, err)
	}

	b := img.Bounds()
	w, h = b.Dx(), b.Dy()
	pix = make([]byte, w*h*4)
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
	return pix, w, h, nil
}

func decodeUnknownFormat(data []byte) (image.Image, error) {
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := png.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := bmp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return webp.Decode(bytes.NewReader(data))
}

// decompressSlidePositions zlib-inflates a stitching-intensity record
// into raw mrxs_slide_position_t bytes (flag:1, x:4, y:4 little-endian,
// packed — 9 bytes each), mirroring original_source's
// mrxs_load_slide_position_file, which uses miniz's tinfl with
// TINFL_FLAG_PARSE_ZLIB_HEADER — equivalent to Go's compress/zlib, the
// same library the TIFF reader already uses for Deflate-compressed
// tiles (internal/tiff/decode.go's decompressDeflate).
func decompressSlidePositions(compressed []byte) ([]slidePosition, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: MRXS slide position zlib header: %v", slideerr.ErrMalformedContainer, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: MRXS slide position inflate: %v", slideerr.ErrMalformedContainer, err)
	}
	if len(raw)%9 != 0 {
		return nil, fmt.Errorf("%w: MRXS slide position stream length %d not a multiple of 9", slideerr.ErrMalformedContainer, len(raw))
	}

	positions := make([]slidePosition, len(raw)/9)
	for i := range positions {
		b := raw[i*9 : i*9+9]
		positions[i] = slidePosition{
			Flag: b[0],
			X:    int32(b[1]) | int32(b[2])<<8 | int32(b[3])<<16 | int32(b[4])<<24,
			Y:    int32(b[5]) | int32(b[6])<<8 | int32(b[7])<<16 | int32(b[8])<<24,
		}
	}
	return positions, nil
}

// slidePosition is a per-camera-field stage coordinate record, spec.md
// §6's "MRXS slide position record": flag (1) | x (4) | y (4).
type slidePosition struct {
	Flag byte
	X, Y int32
}
