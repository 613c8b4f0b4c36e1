package tiff

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// TIFF compression values this reader understands.
const (
	CompressionNone    = 1
	CompressionLZW     = 5
	CompressionJPEG    = 7
	CompressionDeflate = 8
	CompressionAdobeZ  = 32946
	CompressionOldLZW  = 32773 // "old-style" bit-reversed LZW some scanners still emit
)

// decompress returns the raw (pre-predictor) band bytes for one tile or
// strip payload, dispatching on the IFD's compression scheme. JPEG is
// handled separately by decodeJPEG since it produces pixels directly
// rather than predictor-eligible band bytes.
func decompress(compression uint16, data []byte) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionDeflate, CompressionAdobeZ:
		return decompressDeflate(data)
	case CompressionLZW:
		return decompressTIFFLZW(data)
	case CompressionOldLZW:
		return decompressTIFFLZW(reverseBits(data))
	default:
		return nil, fmt.Errorf("%w: compression scheme %d", slideerr.ErrUnsupportedFormat, compression)
	}
}

func decompressDeflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err == nil {
		defer r.Close()
		if out, err := io.ReadAll(r); err == nil {
			return out, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("%w: inflating tile: %v", slideerr.ErrMalformedContainer, err)
	}
	return out, nil
}

// reverseBits flips the bit order of every byte, converting the rare
// "old-style" bit-reversed LZW dialect into the bitstream the TIFF 6.0
// decoder expects.
func reverseBits(data []byte) []byte {
	var reverseTable [256]byte
	for i := 0; i < 256; i++ {
		b := byte(i)
		b = (b&0xF0)>>4 | (b&0x0F)<<4
		b = (b&0xCC)>>2 | (b&0x33)<<2
		b = (b&0xAA)>>1 | (b&0x55)<<1
		reverseTable[i] = b
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = reverseTable[b]
	}
	return out
}

// undoHorizontalDifferencing reverses TIFF Predictor=2: each sample is
// stored as the delta from the previous sample in the same row, so this
// accumulates deltas back into absolute values, in place.
func undoHorizontalDifferencing(data []byte, width, samplesPerPixel int) {
	rowBytes := width * samplesPerPixel
	for off := 0; off+rowBytes <= len(data); off += rowBytes {
		row := data[off : off+rowBytes]
		for x := samplesPerPixel; x < rowBytes; x++ {
			row[x] += row[x-samplesPerPixel]
		}
	}
}

// decodeTileToBGRA produces a tileWidth*tileHeight*4-byte BGRA buffer for
// one tile, dispatching on compression and sample layout: JPEG tiles go
// through image/jpeg (with JPEGTables prepended), raw tiles are
// repacked per spec.md's 1/2/3/4-sample rules, and palette tiles are
// expanded through the fixed paletteLUT.
func decodeTileToBGRA(ifd *IFD, raw []byte, w, h int) ([]byte, error) {
	out := make([]byte, w*h*4)

	if ifd.Compression == CompressionJPEG {
		img, err := decodeJPEGTile(ifd, raw)
		if err != nil {
			return nil, err
		}
		bounds := img.Bounds()
		for y := 0; y < h && y < bounds.Dy(); y++ {
			for x := 0; x < w && x < bounds.Dx(); x++ {
				r32, g32, b32, a32 := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				o := (y*w + x) * 4
				out[o+0] = byte(b32 >> 8)
				out[o+1] = byte(g32 >> 8)
				out[o+2] = byte(r32 >> 8)
				out[o+3] = byte(a32 >> 8)
			}
		}
		return out, nil
	}

	band, err := decompress(ifd.Compression, raw)
	if err != nil {
		return nil, err
	}
	if ifd.Predictor == 2 {
		undoHorizontalDifferencing(band, w, int(ifd.SamplesPerPixel))
	}

	if isPaletteIFD(ifd) {
		return expandPaletteLUT(band, w, h, out)
	}

	spp := int(ifd.SamplesPerPixel)
	if spp <= 0 {
		spp = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := (y*w + x) * spp
			o := (y*w + x) * 4
			if idx+spp > len(band) {
				continue
			}
			switch spp {
			case 1:
				v := band[idx]
				out[o+0], out[o+1], out[o+2], out[o+3] = v, v, v, 255
			case 2:
				v, a := band[idx], band[idx+1]
				out[o+0], out[o+1], out[o+2], out[o+3] = v, v, v, a
			case 3:
				out[o+0], out[o+1], out[o+2], out[o+3] = band[idx+2], band[idx+1], band[idx+0], 255
			default: // 4 or more samples: already BGRA, straight copy
				out[o+0], out[o+1], out[o+2], out[o+3] = band[idx+0], band[idx+1], band[idx+2], band[idx+3]
			}
		}
	}
	return out, nil
}

func decodeJPEGTile(ifd *IFD, data []byte) (image.Image, error) {
	var jpegData []byte
	if len(ifd.JPEGTables) > 0 {
		tables := ifd.JPEGTables
		if len(tables) >= 2 && tables[len(tables)-2] == 0xFF && tables[len(tables)-1] == 0xD9 {
			tables = tables[:len(tables)-2]
		}
		tileData := data
		if len(tileData) >= 2 && tileData[0] == 0xFF && tileData[1] == 0xD8 {
			tileData = tileData[2:]
		}
		jpegData = make([]byte, 0, len(tables)+len(tileData))
		jpegData = append(jpegData, tables...)
		jpegData = append(jpegData, tileData...)
	} else {
		jpegData = data
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding JPEG tile: %v", slideerr.ErrMalformedContainer, err)
	}
	return img, nil
}
