package backend

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildDICOMFile assembles a minimal synthetic DICOM Part 10 file: a
// 132-byte preamble+"DICM" marker, Rows/Columns/NumberOfFrames elements in
// Explicit VR Little Endian, and an encapsulated PixelData element with a
// Basic Offset Table plus numFrames dummy fragments — enough for OpenDICOM
// to build its one-level pyramid.Image without needing real JPEG payloads
// (DecodeTile is what would actually decode a fragment, not Open).
func buildDICOMFile(rows, cols uint16, numFrames int) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, 128))
	buf.WriteString("DICM")

	writeShortVR := func(group, elem uint16, vr string, value []byte) {
		binary.Write(&buf, binary.LittleEndian, group)
		binary.Write(&buf, binary.LittleEndian, elem)
		buf.WriteString(vr)
		binary.Write(&buf, binary.LittleEndian, uint16(len(value)))
		buf.Write(value)
	}

	rowsBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(rowsBytes, rows)
	writeShortVR(0x0028, 0x0010, "US", rowsBytes)

	colsBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(colsBytes, cols)
	writeShortVR(0x0028, 0x0011, "US", colsBytes)

	framesBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(framesBytes, uint16(numFrames))
	writeShortVR(0x0028, 0x0008, "US", framesBytes)

	// PixelData: OB, undefined length (0xFFFFFFFF).
	binary.Write(&buf, binary.LittleEndian, uint16(0x7FE0))
	binary.Write(&buf, binary.LittleEndian, uint16(0x0010))
	buf.WriteString("OB")
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // reserved
	binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF))

	writeItem := func(data []byte) {
		binary.Write(&buf, binary.LittleEndian, uint16(0xFFFE))
		binary.Write(&buf, binary.LittleEndian, uint16(0xE000))
		binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
		buf.Write(data)
	}

	// Basic Offset Table: one 4-byte entry per frame (values unused by
	// this reader, it re-derives fragment offsets from the Item stream).
	bot := make([]byte, 4*numFrames)
	writeItem(bot)

	for i := 0; i < numFrames; i++ {
		writeItem([]byte{0xFF, 0xD8, 0xFF, 0xD9}) // placeholder fragment bytes
	}

	// Sequence Delimitation Item.
	binary.Write(&buf, binary.LittleEndian, uint16(0xFFFE))
	binary.Write(&buf, binary.LittleEndian, uint16(0xE0DD))
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	return buf.Bytes()
}

func TestOpenDICOM_BuildsOneLevelTileGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.dcm")
	if err := os.WriteFile(path, buildDICOMFile(64, 64, 3), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	img, be, err := OpenDICOM(path)
	if err != nil {
		t.Fatalf("OpenDICOM: %v", err)
	}
	defer be.Close()

	if len(img.Levels) != 1 || !img.Levels[0].Exists {
		t.Fatalf("expected exactly one existing level")
	}
	lvl := &img.Levels[0]
	if lvl.TileWidth != 64 || lvl.TileHeight != 64 {
		t.Errorf("tile size = %dx%d, want 64x64", lvl.TileWidth, lvl.TileHeight)
	}
	if lvl.TileCountX != 1 || lvl.TileCountY != 3 {
		t.Errorf("tile grid = %dx%d, want 1x3 (one column, one row per frame)", lvl.TileCountX, lvl.TileCountY)
	}
}

func TestOpenDICOM_MissingDICMMarkerErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-dicom.dcm")
	if err := os.WriteFile(path, make([]byte, 200), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := OpenDICOM(path); err == nil {
		t.Fatal("expected error for a file missing the DICM marker")
	}
}

func TestOpenDICOM_MissingFileErrors(t *testing.T) {
	if _, _, err := OpenDICOM(filepath.Join(t.TempDir(), "nope.dcm")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestCeilDiv(t *testing.T) {
	tests := []struct{ a, b, want int }{
		{10, 5, 2},
		{11, 5, 3},
		{0, 5, 0},
		{5, 0, 1},
	}
	for _, tt := range tests {
		if got := ceilDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("ceilDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
