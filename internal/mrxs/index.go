package mrxs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// hierEntry is one Index.dat record for a hierarchical (pyramid tile)
// layer: 16 bytes, little-endian, matching spec.md §6's "MRXS hier
// entry" wire layout exactly.
type hierEntry struct {
	Image, Offset, Length, File uint32
}

// nonhierEntry is one Index.dat record for a non-hierarchical layer
// (stitching intensity, thumbnails, barcodes): 20 bytes with two leading
// padding words, matching spec.md §6's "MRXS nonhier entry" layout.
type nonhierEntry struct {
	pad1, pad2, Offset, Length, File uint32
}

func (e nonhierEntry) isZero() bool { return e.Length == 0 }

// levelTiles is the resolved Index.dat entry grid for one zoom level.
type levelTiles struct {
	widthInTiles, heightInTiles int
	entries                     []hierEntry
	present                     []bool
}

func (lt *levelTiles) at(x, y int) (hierEntry, bool) {
	if x < 0 || y < 0 || x >= lt.widthInTiles || y >= lt.heightInTiles {
		return hierEntry{}, false
	}
	idx := y*lt.widthInTiles + x
	return lt.entries[idx], lt.present[idx]
}

// indexResult is everything index.dat parsing yields.
type indexResult struct {
	levels              []levelTiles
	stitchingEntry      nonhierEntry
	hasStitchingEntry   bool
	thumbnailEntry      nonhierEntry
	hasThumbnailEntry   bool
	barcodeEntry        nonhierEntry
	hasBarcodeEntry     bool
}

// parseIndexDat walks Index.dat per spec.md §4.6.b / §6: a fixed header
// (5-byte version, 32-byte slide id, hier_root, nonhier_root), then for
// each hier/nonhier value (in declaration order) a 4-byte pointer into a
// flat record table rooted at hier_root/nonhier_root, each pointing at a
// paged chain of (entry_count, next_ptr, entries...) pages.
func parseIndexDat(data []byte, sd *slidedat) (*indexResult, error) {
	// version (5) | slide_id (32) | hier_root (4) | nonhier_root (4)
	var header [45]byte
	if _, err := io.ReadFull(bytes.NewReader(data), header[:]); err != nil {
		return nil, fmt.Errorf("%w: Index.dat too short for header: %v", slideerr.ErrMalformedContainer, err)
	}
	hierRoot := binary.LittleEndian.Uint32(header[37:41])
	nonhierRoot := binary.LittleEndian.Uint32(header[41:45])

	if hierRoot == 0 || int(hierRoot) >= len(data) {
		return nil, fmt.Errorf("%w: Index.dat hier_root out of range", slideerr.ErrMalformedContainer)
	}

	result := &indexResult{levels: make([]levelTiles, len(sd.levels))}
	for i := range sd.levels {
		lv := &sd.levels[i]
		widthInTiles := ceilShift(sd.baseWidthInTiles, i)
		heightInTiles := ceilShift(sd.baseHeightInTiles, i)
		lv.widthInTiles, lv.heightInTiles = widthInTiles, heightInTiles
		result.levels[i] = levelTiles{
			widthInTiles:  widthInTiles,
			heightInTiles: heightInTiles,
			entries:       make([]hierEntry, widthInTiles*heightInTiles),
			present:       make([]bool, widthInTiles*heightInTiles),
		}
	}

	recordIndex := 0
	for hi := range sd.hiers {
		h := &sd.hiers[hi]
		for vi := range h.vals {
			ptr, err := readRecordPointer(data, int64(hierRoot), recordIndex)
			recordIndex++
			if err != nil {
				return nil, err
			}
			if h.name == hierSlideZoomLevel && h.vals[vi].isZoomType {
				zoomIdx := h.vals[vi].zoomIndex
				if zoomIdx >= 0 && zoomIdx < len(result.levels) {
					if err := readZoomLevelPages(data, int64(ptr), sd.baseWidthInTiles, zoomIdx, &result.levels[zoomIdx]); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if nonhierRoot == 0 || int(nonhierRoot) >= len(data) {
		return nil, fmt.Errorf("%w: Index.dat nonhier_root out of range", slideerr.ErrMalformedContainer)
	}
	recordIndex = 0
	for ni := range sd.nonhiers {
		nh := &sd.nonhiers[ni]
		for vi := range nh.vals {
			ptr, err := readRecordPointer(data, int64(nonhierRoot), recordIndex)
			recordIndex++
			if err != nil {
				return nil, err
			}
			switch nh.vals[vi].kind {
			case nonhierValStitchingIntensityLevel:
				entry, ok, err := readFirstNonhierEntry(data, int64(ptr))
				if err != nil {
					return nil, err
				}
				result.stitchingEntry, result.hasStitchingEntry = entry, ok
			case nonhierValSlideThumbnail:
				entry, ok, err := readFirstNonhierEntry(data, int64(ptr))
				if err != nil {
					return nil, err
				}
				result.thumbnailEntry, result.hasThumbnailEntry = entry, ok
			case nonhierValSlideBarcode:
				entry, ok, err := readFirstNonhierEntry(data, int64(ptr))
				if err != nil {
					return nil, err
				}
				result.barcodeEntry, result.hasBarcodeEntry = entry, ok
			}
		}
	}

	return result, nil
}

// ceilShift computes ceil(n / 2^shift), the per-level tile-grid width/
// height derivation original_source uses: (base + (1<<i) - 1) >> i.
func ceilShift(n, shift int) int {
	if n <= 0 {
		return 0
	}
	return (n + (1 << uint(shift)) - 1) >> uint(shift)
}

func readRecordPointer(data []byte, root int64, recordIndex int) (uint32, error) {
	off := root + int64(recordIndex)*4
	if off < 0 || off+4 > int64(len(data)) {
		return 0, fmt.Errorf("%w: Index.dat record pointer out of range", slideerr.ErrMalformedContainer)
	}
	return binary.LittleEndian.Uint32(data[off : off+4]), nil
}

// readZoomLevelPages walks the paged hier-entry chain for one zoom
// level, following next_ptr until it is zero or out of range, and
// placing every entry into the level's tile grid at
// (image % baseWidthInTiles, image / baseWidthInTiles) right-shifted by
// scale — exactly original_source's mrxs_read_index_dat_slide_zoom_level.
// A later page's entry never overwrites an earlier page's for the same
// slot in practice (each tile appears in exactly one page), but if it
// did this still matches the original's last-write-wins traversal.
func readZoomLevelPages(data []byte, ptr int64, baseWidthInTiles, scale int, level *levelTiles) error {
	if baseWidthInTiles <= 0 {
		return fmt.Errorf("%w: MRXS base width in tiles is zero", slideerr.ErrMalformedContainer)
	}
	pos := ptr
	for {
		if pos < 0 || pos+8 > int64(len(data)) {
			return fmt.Errorf("%w: Index.dat zoom-level page header out of range", slideerr.ErrMalformedContainer)
		}
		entryCount := binary.LittleEndian.Uint32(data[pos : pos+4])
		nextPtr := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		pos += 8

		if entryCount > 0 {
			need := pos + int64(entryCount)*16
			if need > int64(len(data)) {
				return fmt.Errorf("%w: Index.dat zoom-level page entries out of range", slideerr.ErrMalformedContainer)
			}
			for j := uint32(0); j < entryCount; j++ {
				var e hierEntry
				base := pos + int64(j)*16
				e.Image = binary.LittleEndian.Uint32(data[base : base+4])
				e.Offset = binary.LittleEndian.Uint32(data[base+4 : base+8])
				e.Length = binary.LittleEndian.Uint32(data[base+8 : base+12])
				e.File = binary.LittleEndian.Uint32(data[base+12 : base+16])

				tileX := int(e.Image) % baseWidthInTiles >> uint(scale)
				tileY := int(e.Image) / baseWidthInTiles >> uint(scale)
				if tileX < level.widthInTiles && tileY < level.heightInTiles {
					idx := tileY*level.widthInTiles + tileX
					level.entries[idx] = e
					level.present[idx] = true
				}
			}
			pos += int64(entryCount) * 16
		}

		if nextPtr != 0 && int64(nextPtr) < int64(len(data)) {
			pos = int64(nextPtr)
			continue
		}
		break
	}
	return nil
}

// readFirstNonhierEntry reads the first entry of the first non-empty
// page of a nonhier record chain and returns immediately, matching
// original_source's mrxs_read_stitching_intensity_level comment: "only
// one (relevant) entry is expected" — the same reader serves thumbnail/
// barcode records, which are likewise single-entry in practice.
func readFirstNonhierEntry(data []byte, ptr int64) (nonhierEntry, bool, error) {
	pos := ptr
	for {
		if pos < 0 || pos+8 > int64(len(data)) {
			return nonhierEntry{}, false, fmt.Errorf("%w: Index.dat nonhier page header out of range", slideerr.ErrMalformedContainer)
		}
		entryCount := binary.LittleEndian.Uint32(data[pos : pos+4])
		nextPtr := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		pos += 8

		if entryCount > 0 {
			if pos+20 > int64(len(data)) {
				return nonhierEntry{}, false, fmt.Errorf("%w: Index.dat nonhier entry out of range", slideerr.ErrMalformedContainer)
			}
			var e nonhierEntry
			e.pad1 = binary.LittleEndian.Uint32(data[pos : pos+4])
			e.pad2 = binary.LittleEndian.Uint32(data[pos+4 : pos+8])
			e.Offset = binary.LittleEndian.Uint32(data[pos+8 : pos+12])
			e.Length = binary.LittleEndian.Uint32(data[pos+12 : pos+16])
			e.File = binary.LittleEndian.Uint32(data[pos+16 : pos+20])
			return e, true, nil
		}

		if nextPtr != 0 && int64(nextPtr) < int64(len(data)) {
			pos = int64(nextPtr)
			continue
		}
		break
	}
	return nonhierEntry{}, false, nil
}
