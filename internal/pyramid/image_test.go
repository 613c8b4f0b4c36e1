package pyramid

import "testing"

func TestImage_RetainReleaseRunsCloseHandleOnDeletion(t *testing.T) {
	closed := false
	img := &Image{CloseHandle: func() error { closed = true; return nil }}

	img.Retain()
	img.RequestDeletion()
	if closed {
		t.Fatal("CloseHandle should not run while a reference is still held")
	}
	img.Release()
	if !closed {
		t.Error("CloseHandle should run once the last reference is released after deletion was requested")
	}
}

func TestImage_RequestDeletionWithNoReferencesClosesImmediately(t *testing.T) {
	closed := false
	img := &Image{CloseHandle: func() error { closed = true; return nil }}
	img.RequestDeletion()
	if !closed {
		t.Error("RequestDeletion with zero outstanding references should close immediately")
	}
}

func TestImage_ReleaseWithoutDeletionDoesNotClose(t *testing.T) {
	closed := false
	img := &Image{CloseHandle: func() error { closed = true; return nil }}
	img.Retain()
	img.Release()
	if closed {
		t.Error("Release without a pending deletion should not close the handle")
	}
}

func TestImage_ReleasePastZeroPanics(t *testing.T) {
	img := &Image{}
	defer func() {
		if recover() == nil {
			t.Error("expected panic releasing a reference below zero")
		}
	}()
	img.Release()
}

func TestImage_DeletionPending(t *testing.T) {
	img := &Image{}
	if img.DeletionPending() {
		t.Error("fresh image should not have deletion pending")
	}
	img.Retain()
	img.RequestDeletion()
	if !img.DeletionPending() {
		t.Error("DeletionPending() should be true after RequestDeletion")
	}
}

func newTestImage(levelExists bool) *Image {
	img := &Image{WidthPixels: 1024, HeightPixels: 1024}
	lvl := Level{Exists: levelExists, TileCountX: 2, TileCountY: 2, TileWidth: 256, TileHeight: 256}
	lvl.InitTiles()
	img.Levels = []Level{lvl}
	return img
}

func TestImage_GetTile(t *testing.T) {
	img := newTestImage(true)
	tile, err := img.GetTile(0, 1, 0)
	if err != nil {
		t.Fatalf("GetTile: %v", err)
	}
	if tile.X != 1 || tile.Y != 0 {
		t.Errorf("tile X,Y = %d,%d, want 1,0", tile.X, tile.Y)
	}
}

func TestImage_GetTile_LevelOutOfRange(t *testing.T) {
	img := newTestImage(true)
	if _, err := img.GetTile(5, 0, 0); err == nil {
		t.Error("expected error for out-of-range level")
	}
}

func TestImage_GetTile_LevelDoesNotExist(t *testing.T) {
	img := newTestImage(false)
	if _, err := img.GetTile(0, 0, 0); err == nil {
		t.Error("expected error for a non-existent level")
	}
}

func TestImage_GetTile_NeedsIndexingReturnsErrNotIndexed(t *testing.T) {
	img := newTestImage(true)
	img.Levels[0].SetNeedsIndexing(true)
	_, err := img.GetTile(0, 0, 0)
	if err == nil {
		t.Fatal("expected ErrNotIndexed")
	}
}

func TestImage_GetTile_TileOutOfRange(t *testing.T) {
	img := newTestImage(true)
	if _, err := img.GetTile(0, 9, 9); err == nil {
		t.Error("expected error for out-of-range tile coordinates")
	}
}

func TestImage_GetTileFromFlatIndex(t *testing.T) {
	img := newTestImage(true)
	tile, err := img.GetTileFromFlatIndex(0, 3)
	if err != nil {
		t.Fatalf("GetTileFromFlatIndex: %v", err)
	}
	if tile.TileIndex != 3 {
		t.Errorf("TileIndex = %d, want 3", tile.TileIndex)
	}
}

func TestImage_GetTileFromFlatIndex_OutOfRange(t *testing.T) {
	img := newTestImage(true)
	if _, err := img.GetTileFromFlatIndex(0, -1); err == nil {
		t.Error("expected error for negative flat index")
	}
	if _, err := img.GetTileFromFlatIndex(0, 100); err == nil {
		t.Error("expected error for flat index past the tile grid")
	}
}

func TestImage_LevelIsIndexed(t *testing.T) {
	img := newTestImage(true)
	if !img.LevelIsIndexed(0) {
		t.Error("level should be indexed by default")
	}
	img.Levels[0].SetNeedsIndexing(true)
	if img.LevelIsIndexed(0) {
		t.Error("level should report not indexed once SetNeedsIndexing(true)")
	}
	if img.LevelIsIndexed(5) {
		t.Error("out-of-range level should report not indexed")
	}
}

func TestImage_LevelForDownsample(t *testing.T) {
	img := &Image{WidthPixels: 4096}
	img.Levels = []Level{
		{Exists: true, TileCountX: 16, TileCountY: 16, TileWidth: 256, TileHeight: 256}, // full res, downsample 1
		{Exists: true, TileCountX: 8, TileCountY: 8, TileWidth: 256, TileHeight: 256},   // downsample 2
		{Exists: true, TileCountX: 4, TileCountY: 4, TileWidth: 256, TileHeight: 256},   // downsample 4
	}

	if got := img.LevelForDownsample(1.0); got != 0 {
		t.Errorf("LevelForDownsample(1.0) = %d, want 0", got)
	}
	if got := img.LevelForDownsample(3.0); got != 1 {
		t.Errorf("LevelForDownsample(3.0) = %d, want 1 (best non-exceeding downsample)", got)
	}
	if got := img.LevelForDownsample(100.0); got != 2 {
		t.Errorf("LevelForDownsample(100.0) = %d, want 2 (coarsest level available)", got)
	}
}

func TestImage_LevelForDownsample_SkipsNonexistentLevels(t *testing.T) {
	img := &Image{WidthPixels: 4096}
	img.Levels = []Level{
		{Exists: true, TileCountX: 16, TileCountY: 16, TileWidth: 256, TileHeight: 256},
		{Exists: false},
	}
	if got := img.LevelForDownsample(100.0); got != 0 {
		t.Errorf("LevelForDownsample should skip the nonexistent level and return 0, got %d", got)
	}
}

type fakeMPPSetter struct{ mppX, mppY float64 }

func (f *fakeMPPSetter) SetMPP(mppX, mppY float64) { f.mppX, f.mppY = mppX, mppY }

func TestImage_ChangeResolution_PropagatesMPP(t *testing.T) {
	img := &Image{MPPX: 0.25, MPPY: 0.25}
	img.Levels = []Level{
		{Exists: true, MPPX: 0.25, MPPY: 0.25},
		{Exists: true, MPPX: 0.5, MPPY: 0.5},
		{Exists: false, MPPX: 1, MPPY: 1},
	}
	be := &fakeMPPSetter{}

	img.ChangeResolution(0.5, 0.5, be)

	if img.MPPX != 0.5 || img.MPPY != 0.5 {
		t.Errorf("Image mpp = %v/%v, want 0.5/0.5", img.MPPX, img.MPPY)
	}
	for i, lvl := range img.Levels {
		if !lvl.Exists {
			continue
		}
		if lvl.MPPX != 0.5 || lvl.MPPY != 0.5 {
			t.Errorf("level %d mpp = %v/%v, want 0.5/0.5", i, lvl.MPPX, lvl.MPPY)
		}
	}
	if be.mppX != 0.5 || be.mppY != 0.5 {
		t.Errorf("backend mpp = %v/%v, want 0.5/0.5", be.mppX, be.mppY)
	}
}

func TestImage_ChangeResolution_NilBackendIsSafe(t *testing.T) {
	img := &Image{}
	img.Levels = []Level{{Exists: true}}
	img.ChangeResolution(0.3, 0.3, nil)
	if img.MPPX != 0.3 {
		t.Errorf("Image mpp = %v, want 0.3", img.MPPX)
	}
}

func TestOverlayOn_InheritsParentMPP(t *testing.T) {
	parent := &Image{MPPX: 0.25, MPPY: 0.26}
	child := &Image{MPPX: 0.3, MPPY: 0.3}
	child.Levels = []Level{{Exists: true, MPPX: 0.3, MPPY: 0.3}}

	OverlayOn(parent, child)

	if child.MPPX != 0.25 || child.MPPY != 0.26 {
		t.Errorf("child mpp = %v/%v, want parent's 0.25/0.26", child.MPPX, child.MPPY)
	}
	if child.Levels[0].MPPX != 0.25 || child.Levels[0].MPPY != 0.26 {
		t.Errorf("child level 0 mpp = %v/%v, want 0.25/0.26", child.Levels[0].MPPX, child.Levels[0].MPPY)
	}
}
