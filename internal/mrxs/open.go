package mrxs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cytoslide/slidecore/internal/backend"
	"github.com/cytoslide/slidecore/internal/pyramid"
	"github.com/cytoslide/slidecore/internal/slideerr"
)

// Reader is the MRXS backend.Backend. It owns the open Data*.dat file
// handles and the Index.dat-derived tile grids; DecodeTile positionally
// reads a tile's hier entry from its owning Data file and decodes it,
// and SubmitIndexing is a no-op because Index.dat is parsed eagerly at
// Open time (unlike TIFF's IFD chain, Index.dat has no per-level lazy
// alternative worth deferring: the whole file must be read once to
// resolve the hier_root/nonhier_root record table regardless of which
// level a caller asks for first).
type Reader struct {
	mu        sync.Mutex
	datFiles  []*os.File
	levelFmt  []imageFormat
	levelData []levelTiles

	stitchingEntry    nonhierEntry
	hasStitchingEntry bool

	nativeMPPX, nativeMPPY float64
}

var _ backend.Backend = (*Reader)(nil)
var _ pyramid.MPPSetter = (*Reader)(nil)

// SetMPP implements pyramid.MPPSetter.
func (r *Reader) SetMPP(mppX, mppY float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nativeMPPX, r.nativeMPPY = mppX, mppY
}

// Open reads an MRXS directory (Slidedat.ini, Index.dat, Data*.dat) and
// builds the pyramid.Image it represents.
func Open(dir string) (*pyramid.Image, backend.Backend, error) {
	iniBytes, err := os.ReadFile(filepath.Join(dir, "Slidedat.ini"))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading Slidedat.ini: %v", slideerr.ErrIoError, err)
	}
	sd, err := parseSlidedat(iniBytes)
	if err != nil {
		return nil, nil, err
	}

	indexBytes, err := os.ReadFile(filepath.Join(dir, sd.indexDatFilename))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading %s: %v", slideerr.ErrIoError, sd.indexDatFilename, err)
	}
	idx, err := parseIndexDat(indexBytes, sd)
	if err != nil {
		return nil, nil, err
	}

	datFiles := make([]*os.File, len(sd.datFilenames))
	for i, name := range sd.datFilenames {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			closeAll(datFiles)
			return nil, nil, fmt.Errorf("%w: opening %s: %v", slideerr.ErrIoError, name, err)
		}
		datFiles[i] = f
	}

	r := &Reader{datFiles: datFiles}
	r.levelFmt = make([]imageFormat, len(sd.levels))
	r.levelData = idx.levels
	r.stitchingEntry, r.hasStitchingEntry = idx.stitchingEntry, idx.hasStitchingEntry

	img := &pyramid.Image{Backend: pyramid.BackendMRXS}
	img.CloseHandle = r.Close
	img.Levels = make([]pyramid.Level, len(sd.levels))

	for i := range sd.levels {
		lv := &sd.levels[i]
		r.levelFmt[i] = lv.format

		plv := &img.Levels[i]
		plv.Exists = lv.tileWidth > 0 && lv.tileHeight > 0
		plv.BackingIndex = i
		plv.TileWidth = int32(lv.tileWidth)
		plv.TileHeight = int32(lv.tileHeight)
		plv.TileCountX = int32(idx.levels[i].widthInTiles)
		plv.TileCountY = int32(idx.levels[i].heightInTiles)
		plv.Width = int64(plv.TileCountX) * int64(plv.TileWidth)
		plv.Height = int64(plv.TileCountY) * int64(plv.TileHeight)
		plv.Downsample = float64(int64(1) << uint(i))
		plv.MPPX, plv.MPPY = lv.mppX, lv.mppY
		plv.InitTiles()

		// Mark tiles with no Index.dat entry as permanently empty: MRXS
		// grids are sparse near the tissue boundary, and an absent entry
		// there is a real "no data" slot, not an indexing gap.
		for ty := 0; ty < idx.levels[i].heightInTiles; ty++ {
			for tx := 0; tx < idx.levels[i].widthInTiles; tx++ {
				_, present := idx.levels[i].at(tx, ty)
				if !present {
					t := plv.TileAt(int32(tx), int32(ty))
					if t != nil {
						t.IsEmpty = true
						t.SetState(pyramid.TileEmpty)
					}
				}
			}
		}

		if i == 0 {
			img.WidthPixels = int64(plv.TileCountX) * int64(plv.TileWidth)
			img.HeightPixels = int64(plv.TileCountY) * int64(plv.TileHeight)
			img.MPPX, img.MPPY = lv.mppX, lv.mppY
			r.nativeMPPX, r.nativeMPPY = lv.mppX, lv.mppY
		}
	}

	if idx.hasThumbnailEntry {
		img.Macro = r.decodeAuxEntry(idx.thumbnailEntry)
	}
	if idx.hasBarcodeEntry {
		img.Label = r.decodeAuxEntry(idx.barcodeEntry)
	}

	return img, r, nil
}

// DecodeTile implements backend.Backend.
func (r *Reader) DecodeTile(level *pyramid.Level, x, y int32) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if level.BackingIndex < 0 || level.BackingIndex >= len(r.levelData) {
		return nil, false, fmt.Errorf("%w: MRXS level backing index %d out of range", slideerr.ErrMalformedContainer, level.BackingIndex)
	}
	lt := &r.levelData[level.BackingIndex]
	entry, present := lt.at(int(x), int(y))
	if !present || entry.Length == 0 {
		return nil, true, nil
	}
	if int(entry.File) >= len(r.datFiles) {
		return nil, false, fmt.Errorf("%w: MRXS tile references Data file %d, only %d open", slideerr.ErrMalformedContainer, entry.File, len(r.datFiles))
	}

	raw := make([]byte, entry.Length)
	if _, err := r.datFiles[entry.File].ReadAt(raw, int64(entry.Offset)); err != nil {
		return nil, false, fmt.Errorf("%w: reading MRXS tile: %v", slideerr.ErrIoError, err)
	}

	pix, w, h, err := decodeToBGRA(r.levelFmt[level.BackingIndex], raw)
	if err != nil {
		return nil, false, err
	}
	if int32(w) != level.TileWidth || int32(h) != level.TileHeight {
		// A partial tile at the grid's right/bottom edge: callers clip
		// against level.TileWidth/Height, so return what decoded rather
		// than failing the whole tile.
		return pix, false, nil
	}
	return pix, false, nil
}

// SubmitIndexing implements backend.Backend. Every MRXS level is fully
// indexed by the time Open returns (Index.dat's page chains must be
// walked in full to build the record-pointer table), so this never
// observes NeedsIndexing true in practice.
func (r *Reader) SubmitIndexing(level *pyramid.Level) error {
	level.SetNeedsIndexing(false)
	return nil
}

// Close implements backend.Backend.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	closeAll(r.datFiles)
	return nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

// CameraPositions decodes and returns the per-field-of-view stage
// coordinates recorded under the stitching-intensity nonhier entry, or
// nil if the slide carries none. Exposed for overlay/annotation callers
// that want to draw the scan's camera-position grid over a macro image;
// the slide access engine itself never needs these to serve tiles.
func (r *Reader) CameraPositions() ([]slidePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasStitchingEntry || r.stitchingEntry.Length == 0 {
		return nil, nil
	}
	if int(r.stitchingEntry.File) >= len(r.datFiles) {
		return nil, fmt.Errorf("%w: MRXS stitching entry references Data file %d, only %d open", slideerr.ErrMalformedContainer, r.stitchingEntry.File, len(r.datFiles))
	}

	compressed := make([]byte, r.stitchingEntry.Length)
	if _, err := r.datFiles[r.stitchingEntry.File].ReadAt(compressed, int64(r.stitchingEntry.Offset)); err != nil {
		return nil, fmt.Errorf("%w: reading MRXS stitching entry: %v", slideerr.ErrIoError, err)
	}
	return decompressSlidePositions(compressed)
}

func (r *Reader) decodeAuxEntry(entry nonhierEntry) *pyramid.RasterImage {
	if entry.Length == 0 || int(entry.File) >= len(r.datFiles) {
		return nil
	}
	raw := make([]byte, entry.Length)
	if _, err := r.datFiles[entry.File].ReadAt(raw, int64(entry.Offset)); err != nil {
		return nil
	}
	pix, w, h, err := decodeToBGRA(imageFormatUnknown, raw)
	if err != nil {
		return nil
	}
	return &pyramid.RasterImage{Width: int32(w), Height: int32(h), Pixel: pix}
}
