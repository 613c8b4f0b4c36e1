package mrxs

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func writeHierEntry(buf *bytes.Buffer, image, offset, length, file uint32) {
	binary.Write(buf, binary.LittleEndian, image)
	binary.Write(buf, binary.LittleEndian, offset)
	binary.Write(buf, binary.LittleEndian, length)
	binary.Write(buf, binary.LittleEndian, file)
}

// Worked example (f): a zoom level's tile entries are split across a
// two-page record chain (4 entries on page 1, 2 on page 2); every slot
// ends up populated and no page-1 slot is overwritten by page 2's entries.
func buildTwoPageIndexDat(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer

	buf.Write(make([]byte, 45)) // version+slide_id+hier_root+nonhier_root placeholder

	hierRoot := uint32(45)
	buf.Write(make([]byte, 4)) // one record pointer slot for the single hier value

	page1Offset := uint32(buf.Len())
	binary.Write(&buf, binary.LittleEndian, uint32(4)) // entryCount
	page2OffsetPos := buf.Len()
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // nextPtr, patched below
	writeHierEntry(&buf, 0, 1000, 10, 0)
	writeHierEntry(&buf, 1, 1001, 11, 0)
	writeHierEntry(&buf, 2, 1002, 12, 0)
	writeHierEntry(&buf, 3, 1003, 13, 0)

	page2Offset := uint32(buf.Len())
	binary.Write(&buf, binary.LittleEndian, uint32(2)) // entryCount
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // nextPtr: end of chain
	writeHierEntry(&buf, 4, 2000, 20, 1)
	writeHierEntry(&buf, 5, 2001, 21, 1)

	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[page2OffsetPos:page2OffsetPos+4], page2Offset)
	binary.LittleEndian.PutUint32(data[hierRoot:hierRoot+4], page1Offset)

	nonhierRoot := uint32(45) // unused (no nonhier values), just needs to be in range
	binary.LittleEndian.PutUint32(data[37:41], hierRoot)
	binary.LittleEndian.PutUint32(data[41:45], nonhierRoot)

	return data
}

func TestParseIndexDat_TwoPageZoomLevelChain(t *testing.T) {
	data := buildTwoPageIndexDat(t)
	sd := &slidedat{
		baseWidthInTiles:  3,
		baseHeightInTiles: 2,
		levels:            []levelInfo{{}},
		hiers: []hier{
			{name: hierSlideZoomLevel, vals: []hierVal{{isZoomType: true, zoomIndex: 0}}},
		},
	}

	result, err := parseIndexDat(data, sd)
	if err != nil {
		t.Fatalf("parseIndexDat: %v", err)
	}
	if len(result.levels) != 1 {
		t.Fatalf("len(levels) = %d, want 1", len(result.levels))
	}
	lv := &result.levels[0]
	if lv.widthInTiles != 3 || lv.heightInTiles != 2 {
		t.Fatalf("tile grid = %dx%d, want 3x2", lv.widthInTiles, lv.heightInTiles)
	}

	want := map[[2]int]hierEntry{
		{0, 0}: {Image: 0, Offset: 1000, Length: 10, File: 0},
		{1, 0}: {Image: 1, Offset: 1001, Length: 11, File: 0},
		{2, 0}: {Image: 2, Offset: 1002, Length: 12, File: 0},
		{0, 1}: {Image: 3, Offset: 1003, Length: 13, File: 0},
		{1, 1}: {Image: 4, Offset: 2000, Length: 20, File: 1},
		{2, 1}: {Image: 5, Offset: 2001, Length: 21, File: 1},
	}
	for pos, wantEntry := range want {
		entry, present := lv.at(pos[0], pos[1])
		if !present {
			t.Errorf("tile (%d,%d) not present", pos[0], pos[1])
			continue
		}
		if entry != wantEntry {
			t.Errorf("tile (%d,%d) = %+v, want %+v", pos[0], pos[1], entry, wantEntry)
		}
	}
}

func TestLevelTiles_AtOutOfRange(t *testing.T) {
	lt := &levelTiles{widthInTiles: 2, heightInTiles: 2, entries: make([]hierEntry, 4), present: make([]bool, 4)}
	if _, ok := lt.at(-1, 0); ok {
		t.Error("at(-1,0) should report not present")
	}
	if _, ok := lt.at(0, 2); ok {
		t.Error("at(0,2) should report not present")
	}
}

func TestCeilShift(t *testing.T) {
	tests := []struct {
		n, shift, want int
	}{
		{10, 0, 10},
		{10, 1, 5},
		{11, 1, 6},
		{0, 2, 0},
		{-1, 1, 0},
	}
	for _, tt := range tests {
		if got := ceilShift(tt.n, tt.shift); got != tt.want {
			t.Errorf("ceilShift(%d, %d) = %d, want %d", tt.n, tt.shift, got, tt.want)
		}
	}
}

func TestNonhierEntry_IsZero(t *testing.T) {
	if !(nonhierEntry{}).isZero() {
		t.Error("zero-value nonhierEntry should report isZero")
	}
	if (nonhierEntry{Length: 5}).isZero() {
		t.Error("nonhierEntry with nonzero Length should not report isZero")
	}
}

func TestReadFirstNonhierEntry_SkipsEmptyPageToNext(t *testing.T) {
	var buf bytes.Buffer
	page1 := uint32(0)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // entryCount 0: empty page
	page2Pos := buf.Len()
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // nextPtr, patched below

	page2 := uint32(buf.Len())
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // entryCount
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // nextPtr: end
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // pad1
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // pad2
	binary.Write(&buf, binary.LittleEndian, uint32(500))  // Offset
	binary.Write(&buf, binary.LittleEndian, uint32(50))   // Length
	binary.Write(&buf, binary.LittleEndian, uint32(2))    // File

	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[page2Pos:page2Pos+4], page2)

	entry, ok, err := readFirstNonhierEntry(data, int64(page1))
	if err != nil {
		t.Fatalf("readFirstNonhierEntry: %v", err)
	}
	if !ok {
		t.Fatal("expected an entry to be found on the second page")
	}
	if entry.Offset != 500 || entry.Length != 50 || entry.File != 2 {
		t.Errorf("entry = %+v, want Offset=500 Length=50 File=2", entry)
	}
}
