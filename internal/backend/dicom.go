package backend

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/jpeg"
	"io"
	"os"

	"github.com/cytoslide/slidecore/internal/pyramid"
	"github.com/cytoslide/slidecore/internal/slideerr"
)

// dicomTag is a (group, element) pair, the same two-field addressing
// scheme internal/tiff's IFD entries use for TIFF tags, just 16 bits
// each instead of one 16-bit tag.
type dicomTag struct{ group, element uint16 }

var (
	tagRows            = dicomTag{0x0028, 0x0010}
	tagColumns         = dicomTag{0x0028, 0x0011}
	tagNumberOfFrames  = dicomTag{0x0028, 0x0008}
	tagTotalPixelCols  = dicomTag{0x0048, 0x0006}
	tagTotalPixelRows  = dicomTag{0x0048, 0x0007}
	tagPixelData       = dicomTag{0x7FE0, 0x0010}
	tagItem            = dicomTag{0xFFFE, 0xE000}
	tagSeqDelimItem    = dicomTag{0xFFFE, 0xE0DD}
)

// dicomReader is a minimal DICOM-WSI backend.Backend: a single
// resolution level whose tiles are the SOP instance's encapsulated
// frames, addressed as a grid via TotalPixelMatrixColumns/Rows. DICOM-WSI
// multi-resolution pyramids are represented as one SOP instance per
// level in the real standard; building that cross-instance pyramid is
// out of scope here (spec.md §4.4.c only asks for a "thin adapter
// sketched as a variant of the same contract") — this backend opens one
// instance as one flat level, which is enough to view the resolution
// that instance carries.
type dicomReader struct {
	f            *os.File
	frameOffsets []int64
	frameLengths []int64
	tileWidth    int
	tileHeight   int
	tileCountX   int
	tileCountY   int
}

var _ Backend = (*dicomReader)(nil)

// OpenDICOM parses a DICOM Part 10 file's explicit-VR-little-endian
// dataset for Rows/Columns, TotalPixelMatrixColumns/Rows, and the
// encapsulated PixelData fragment offsets, then builds a one-level
// pyramid.Image over them.
func OpenDICOM(path string) (*pyramid.Image, Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening %s: %v", slideerr.ErrIoError, path, err)
	}

	var preamble [132]byte
	if _, err := io.ReadFull(f, preamble[:]); err != nil || string(preamble[128:132]) != "DICM" {
		f.Close()
		return nil, nil, fmt.Errorf("%w: not a DICOM Part 10 file", slideerr.ErrMalformedContainer)
	}

	rest, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: reading DICOM dataset: %v", slideerr.ErrIoError, err)
	}

	elems, err := parseExplicitVRElements(rest)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	rows := int(elems.uint16(tagRows))
	cols := int(elems.uint16(tagColumns))
	if rows == 0 || cols == 0 {
		f.Close()
		return nil, nil, fmt.Errorf("%w: DICOM dataset missing Rows/Columns", slideerr.ErrMalformedContainer)
	}

	totalCols := int(elems.uint32(tagTotalPixelCols))
	totalRows := int(elems.uint32(tagTotalPixelRows))
	tileCountX, tileCountY := 1, int(elems.uint32(tagNumberOfFrames))
	if tileCountY == 0 {
		tileCountY = 1
	}
	if totalCols > 0 && totalRows > 0 {
		tileCountX = ceilDiv(totalCols, cols)
		tileCountY = ceilDiv(totalRows, rows)
	}

	frameOffsets, frameLengths, err := elems.pixelDataFragments()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	// Element offsets index into the dataset that follows the 132-byte
	// preamble; DecodeTile reads the file itself, so shift them.
	for i := range frameOffsets {
		frameOffsets[i] += int64(len(preamble))
	}

	r := &dicomReader{
		f:            f,
		frameOffsets: frameOffsets,
		frameLengths: frameLengths,
		tileWidth:    cols,
		tileHeight:   rows,
		tileCountX:   tileCountX,
		tileCountY:   tileCountY,
	}

	img := &pyramid.Image{Backend: pyramid.BackendDICOM}
	img.CloseHandle = r.Close
	img.WidthPixels = int64(tileCountX) * int64(cols)
	img.HeightPixels = int64(tileCountY) * int64(rows)
	img.Levels = make([]pyramid.Level, 1)
	lvl := &img.Levels[0]
	lvl.Exists = true
	lvl.TileWidth, lvl.TileHeight = int32(cols), int32(rows)
	lvl.TileCountX, lvl.TileCountY = int32(tileCountX), int32(tileCountY)
	lvl.InitTiles()

	return img, r, nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

// DecodeTile implements Backend. Frame i is assumed to cover grid
// position (i % tileCountX, i / tileCountX), the row-major convention
// DICOM-WSI's TILED_FULL dimension organization type specifies.
func (r *dicomReader) DecodeTile(level *pyramid.Level, x, y int32) ([]byte, bool, error) {
	idx := int(y)*r.tileCountX + int(x)
	if idx < 0 || idx >= len(r.frameOffsets) {
		return nil, true, nil
	}
	raw := make([]byte, r.frameLengths[idx])
	if _, err := r.f.ReadAt(raw, r.frameOffsets[idx]); err != nil {
		return nil, false, fmt.Errorf("%w: reading DICOM frame %d: %v", slideerr.ErrIoError, idx, err)
	}

	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false, fmt.Errorf("%w: decoding DICOM frame %d: %v", slideerr.ErrMalformedContainer, idx, err)
	}
	b := img.Bounds()
	pix := make([]byte, b.Dx()*b.Dy()*4)
	i := 0
	for py := b.Min.Y; py < b.Max.Y; py++ {
		for px := b.Min.X; px < b.Max.X; px++ {
			cr, cg, cb, ca := img.At(px, py).RGBA()
			pix[i+0] = byte(cb >> 8)
			pix[i+1] = byte(cg >> 8)
			pix[i+2] = byte(cr >> 8)
			pix[i+3] = byte(ca >> 8)
			i += 4
		}
	}
	return pix, false, nil
}

// SubmitIndexing implements Backend; all frame offsets are resolved at
// Open time by walking the encapsulated PixelData item stream.
func (r *dicomReader) SubmitIndexing(level *pyramid.Level) error {
	level.SetNeedsIndexing(false)
	return nil
}

// Close implements Backend.
func (r *dicomReader) Close() error { return r.f.Close() }

// element is one parsed DICOM data element.
type element struct {
	tag    dicomTag
	vr     string
	offset int64 // absolute offset of value bytes within the dataset
	length int64
}

type elementTable struct {
	data []byte
	byTag map[dicomTag]element
}

func (t *elementTable) uint16(tag dicomTag) uint16 {
	e, ok := t.byTag[tag]
	if !ok || e.length < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(t.data[e.offset : e.offset+2])
}

func (t *elementTable) uint32(tag dicomTag) uint32 {
	e, ok := t.byTag[tag]
	if !ok {
		return 0
	}
	// Many integer VRs (IS, US) in DICOM are textual or 2 bytes; accept
	// either a 4-byte binary value or a decimal string.
	if e.length == 4 {
		return binary.LittleEndian.Uint32(t.data[e.offset : e.offset+4])
	}
	if e.length == 2 {
		return uint32(binary.LittleEndian.Uint16(t.data[e.offset : e.offset+2]))
	}
	var n uint32
	fmt.Sscanf(string(bytes.TrimSpace(t.data[e.offset:e.offset+e.length])), "%d", &n)
	return n
}

// pixelDataFragments returns the per-frame offsets (within the dataset,
// i.e. relative to the end of the 132-byte preamble) and lengths for an
// encapsulated (OB, undefined length) PixelData element: the first Item
// is the Basic Offset Table, which is skipped, and subsequent Items are the
// frame fragments themselves, one-to-one when no frame spans multiple
// fragments (the common case for JPEG-compressed WSI tiles).
func (t *elementTable) pixelDataFragments() ([]int64, []int64, error) {
	e, ok := t.byTag[tagPixelData]
	if !ok {
		return nil, nil, fmt.Errorf("%w: DICOM dataset has no PixelData element", slideerr.ErrMalformedContainer)
	}
	if e.length != -1 {
		// Native (uncompressed) pixel data: single "frame" covering the
		// whole element, not tiled.
		return []int64{e.offset}, []int64{e.length}, nil
	}

	pos := e.offset
	var items []element
	for pos+8 <= int64(len(t.data)) {
		group := binary.LittleEndian.Uint16(t.data[pos : pos+2])
		elem := binary.LittleEndian.Uint16(t.data[pos+2 : pos+4])
		length := int64(binary.LittleEndian.Uint32(t.data[pos+4 : pos+8]))
		pos += 8
		if (dicomTag{group, elem}) == tagSeqDelimItem {
			break
		}
		if (dicomTag{group, elem}) != tagItem {
			break
		}
		items = append(items, element{offset: pos, length: length})
		pos += length
	}
	if len(items) < 2 {
		return nil, nil, fmt.Errorf("%w: encapsulated PixelData has no frame fragments", slideerr.ErrMalformedContainer)
	}
	// items[0] is the Basic Offset Table; one fragment per frame follows.
	offsets := make([]int64, len(items)-1)
	lengths := make([]int64, len(items)-1)
	for i, it := range items[1:] {
		offsets[i] = it.offset
		lengths[i] = it.length
	}
	return offsets, lengths, nil
}

// parseExplicitVRElements walks a DICOM dataset encoded in Explicit VR
// Little Endian (the transfer syntax file-meta information always uses,
// and the overwhelmingly common choice for the main dataset too), for
// every top-level element up to and including PixelData.
func parseExplicitVRElements(data []byte) (*elementTable, error) {
	t := &elementTable{data: data, byTag: make(map[dicomTag]element)}
	pos := 0
	for pos+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[pos : pos+2])
		elem := binary.LittleEndian.Uint16(data[pos+2 : pos+4])
		vr := string(data[pos+4 : pos+6])
		pos += 6

		var length int64
		switch vr {
		case "OB", "OW", "OF", "SQ", "UT", "UN":
			if pos+6 > len(data) {
				return nil, fmt.Errorf("%w: truncated DICOM element header", slideerr.ErrShortRead)
			}
			raw := binary.LittleEndian.Uint32(data[pos+2 : pos+6])
			pos += 6
			if raw == 0xFFFFFFFF {
				length = -1 // undefined length (encapsulated / sequence)
			} else {
				length = int64(raw)
			}
		default:
			if pos+2 > len(data) {
				return nil, fmt.Errorf("%w: truncated DICOM element header", slideerr.ErrShortRead)
			}
			length = int64(binary.LittleEndian.Uint16(data[pos : pos+2]))
			pos += 2
		}

		tag := dicomTag{group, elem}
		t.byTag[tag] = element{tag: tag, vr: vr, offset: int64(pos), length: length}

		if tag == tagPixelData {
			// PixelData's value (native pixels, or the encapsulated item
			// stream) runs to EOF for a single-frame-group file; leave
			// pos where it is so callers read fragments directly from the
			// recorded offset rather than continuing the element walk.
			return t, nil
		}

		if length < 0 {
			// A sequence with undefined length that isn't PixelData: skip
			// past it by scanning for its delimiter item, since nested
			// sequence contents aren't needed by this reader.
			skip, err := skipUndefinedLengthSequence(data, pos)
			if err != nil {
				return nil, err
			}
			pos = skip
			continue
		}
		pos += int(length)
	}
	return t, nil
}

func skipUndefinedLengthSequence(data []byte, pos int) (int, error) {
	for pos+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[pos : pos+2])
		elem := binary.LittleEndian.Uint16(data[pos+2 : pos+4])
		length := int64(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if (dicomTag{group, elem}) == tagSeqDelimItem {
			return pos, nil
		}
		if length > 0 {
			pos += int(length)
		}
	}
	return 0, fmt.Errorf("%w: unterminated DICOM sequence", slideerr.ErrMalformedContainer)
}
