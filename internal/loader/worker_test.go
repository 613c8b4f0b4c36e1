package loader

import (
	"testing"
	"time"

	"github.com/cytoslide/slidecore/internal/arena"
	"github.com/cytoslide/slidecore/internal/pyramid"
	"github.com/cytoslide/slidecore/internal/workqueue"
)

func TestWorkerPool_ProcessesSubmittedTiles(t *testing.T) {
	img := newTestImage()
	be := &fakeBackend{pix: make([]byte, 4*4*4)}
	alloc := arena.NewBlockAllocator(4*4*4, 0)
	lanes := workqueue.NewLanes(8, 8)
	c := New(alloc, lanes)

	pool := StartWorkerPool(lanes, 2)
	defer pool.Stop()

	if err := c.RequestTile(img, be, 0, 1, 1, PriorityHigh, true, false); err != nil {
		t.Fatalf("RequestTile: %v", err)
	}

	tile := img.Levels[0].TileAt(1, 1)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && tile.State() != pyramid.TileCached {
		time.Sleep(time.Millisecond)
	}
	if tile.State() != pyramid.TileCached {
		t.Fatalf("tile state = %v, want cached", tile.State())
	}
}

func TestWorkerPool_StopWithIdleWorkersReturns(t *testing.T) {
	lanes := workqueue.NewLanes(2, 2)
	pool := StartWorkerPool(lanes, 1)
	pool.Stop()
}
