package arena

import (
	"bytes"
	"testing"
)

func TestBlockAllocator_AllocReturnsZeroedBlock(t *testing.T) {
	b := NewBlockAllocator(64, 1<<20)
	buf, err := b.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(buf) != 64 {
		t.Errorf("len(buf) = %d, want 64", len(buf))
	}
	if !bytes.Equal(buf, make([]byte, 64)) {
		t.Error("Alloc did not return a zeroed block")
	}
}

func TestBlockAllocator_FreeAndReuse(t *testing.T) {
	b := NewBlockAllocator(16, 1<<20)
	buf, err := b.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	buf[0] = 0xFF
	b.Free(buf)

	allocated, free := b.Stats()
	if free == 0 {
		t.Errorf("free blocks = %d, want > 0 after Free", free)
	}
	_ = allocated

	buf2, err := b.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if buf2[0] != 0 {
		t.Error("reused block should come back zeroed, not carrying prior contents")
	}
}

func TestBlockAllocator_GrowsNewChunkWhenFreeListEmpty(t *testing.T) {
	b := NewBlockAllocator(8, 1<<20)
	var bufs [][]byte
	for i := 0; i < 70; i++ { // more than one chunk's worth (chunkSize=64)
		buf, err := b.Alloc()
		if err != nil {
			t.Fatalf("Alloc #%d: %v", i, err)
		}
		bufs = append(bufs, buf)
	}
	allocated, _ := b.Stats()
	if allocated <= 0 {
		t.Errorf("allocatedBytes = %d, want > 0", allocated)
	}
}

func TestBlockAllocator_OutOfMemoryErrorsPastBudget(t *testing.T) {
	// Budget smaller than one chunk (64 blocks * 8 bytes = 512) forces the
	// very first Alloc to exceed it.
	b := NewBlockAllocator(8, 100)
	_, err := b.Alloc()
	if err == nil {
		t.Fatal("expected out-of-memory error when budget is smaller than one chunk")
	}
}

func TestBlockAllocator_FreeOfUnknownBufferIsNoop(t *testing.T) {
	b := NewBlockAllocator(16, 1<<20)
	foreign := make([]byte, 16)
	b.Free(foreign) // must not panic or corrupt internal state

	_, err := b.Alloc()
	if err != nil {
		t.Fatalf("Alloc after no-op Free: %v", err)
	}
}

func TestBlockAllocator_FreeEmptyBufferIsNoop(t *testing.T) {
	b := NewBlockAllocator(16, 1<<20)
	b.Free(nil)
	b.Free([]byte{})
}

func TestBlockAllocator_BlockSize(t *testing.T) {
	b := NewBlockAllocator(128, 1<<20)
	if b.BlockSize() != 128 {
		t.Errorf("BlockSize() = %d, want 128", b.BlockSize())
	}
}

func TestBlockAllocator_ZeroBlockSizeClampsToOne(t *testing.T) {
	b := NewBlockAllocator(0, 1<<20)
	if b.BlockSize() != 1 {
		t.Errorf("BlockSize() = %d, want 1 for zero input", b.BlockSize())
	}
}
