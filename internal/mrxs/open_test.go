package mrxs

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

const openTestSlidedat = `
[GENERAL]
IMAGENUMBER_X = 1
IMAGENUMBER_Y = 1

[HIERARCHICAL]
INDEXFILE = Index.dat
HIER_COUNT = 1
HIER_0_NAME = Slide zoom level
HIER_0_COUNT = 1
HIER_0_VAL_0 = ZoomLevel_0
HIER_0_VAL_0_SECTION = LAYER_0_LEVEL_0_SECTION
NONHIER_COUNT = 0

[DATAFILE]
FILE_COUNT = 1
FILE_0 = Data0000.dat

[LAYER_0_LEVEL_0_SECTION]
DIGITIZER_WIDTH = 2
DIGITIZER_HEIGHT = 2
MICROMETER_PER_PIXEL_X = 0.25
MICROMETER_PER_PIXEL_Y = 0.25
IMAGE_FORMAT = PNG
`

// buildSingleTileIndexDat builds an Index.dat with exactly one zoom-level
// hier value whose single page holds one entry, describing a tile stored
// at the given offset/length within Data file 0.
func buildSingleTileIndexDat(offset, length uint32) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, 45))

	hierRoot := uint32(45)
	buf.Write(make([]byte, 4))

	pageOffset := uint32(buf.Len())
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // entryCount
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // nextPtr: end
	writeHierEntry(&buf, 0, offset, length, 0)

	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[hierRoot:hierRoot+4], pageOffset)
	binary.LittleEndian.PutUint32(data[37:41], hierRoot)
	binary.LittleEndian.PutUint32(data[41:45], uint32(45))
	return data
}

func writeMRXSFixture(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "Slidedat.ini"), []byte(openTestSlidedat), 0o644); err != nil {
		t.Fatalf("WriteFile Slidedat.ini: %v", err)
	}

	png := encodePNG(t, 2, 2, color.RGBA{R: 9, G: 8, B: 7, A: 255})
	offset := uint32(1000)
	data := make([]byte, int(offset)+len(png))
	copy(data[offset:], png)
	if err := os.WriteFile(filepath.Join(dir, "Data0000.dat"), data, 0o644); err != nil {
		t.Fatalf("WriteFile Data0000.dat: %v", err)
	}

	idx := buildSingleTileIndexDat(offset, uint32(len(png)))
	if err := os.WriteFile(filepath.Join(dir, "Index.dat"), idx, 0o644); err != nil {
		t.Fatalf("WriteFile Index.dat: %v", err)
	}
}

func TestOpen_BuildsLevelAndDecodesTile(t *testing.T) {
	dir := t.TempDir()
	writeMRXSFixture(t, dir)

	img, be, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer be.Close()

	if len(img.Levels) != 1 || !img.Levels[0].Exists {
		t.Fatalf("expected exactly one existing level")
	}
	lvl := &img.Levels[0]
	if lvl.TileCountX != 1 || lvl.TileCountY != 1 {
		t.Fatalf("tile grid = %dx%d, want 1x1", lvl.TileCountX, lvl.TileCountY)
	}

	pix, empty, err := be.DecodeTile(lvl, 0, 0)
	if err != nil {
		t.Fatalf("DecodeTile: %v", err)
	}
	if empty {
		t.Fatal("DecodeTile reported empty for a tile with a real Index.dat entry")
	}
	if pix[0] != 7 || pix[1] != 8 || pix[2] != 9 || pix[3] != 255 {
		t.Errorf("first pixel BGRA = %v, want (7,8,9,255)", pix[:4])
	}
}

func TestOpen_MissingSlidedatErrors(t *testing.T) {
	if _, _, err := Open(t.TempDir()); err == nil {
		t.Fatal("expected error opening a directory with no Slidedat.ini")
	}
}

func TestReader_DecodeTile_OutOfRangeIsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeMRXSFixture(t, dir)

	img, be, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer be.Close()

	_, empty, err := be.DecodeTile(&img.Levels[0], 5, 5)
	if err != nil {
		t.Fatalf("DecodeTile: %v", err)
	}
	if !empty {
		t.Error("DecodeTile at a coordinate with no Index.dat entry should report empty")
	}
}
