package arena

import (
	"fmt"
	"sync"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// BlockAllocator hands out fixed-size byte blocks sized for one tile's
// decoded BGRA pixel buffer (tileWidth*tileHeight*4). It grows its backing
// chunks lazily up to a configured byte budget and recycles freed blocks
// through a free list, generalizing the fixed-dimension buffer reuse idea
// in the teacher's sync.Map-keyed RGBA pool to a single uniform block size
// shared by every tile in a level (spec.md's tile grid guarantees a
// uniform pixel size per level, so one allocator per level suffices).
type BlockAllocator struct {
	mu         sync.Mutex
	blockSize  int
	chunkSize  int // blocks per chunk
	maxBytes   int64
	chunks     [][]byte
	freeList   []block
	live       map[*byte]block
	allocBytes int64
}

type block struct {
	chunk, index int
}

// NewBlockAllocator creates an allocator for blocks of blockSize bytes,
// capped at maxBytes total.
func NewBlockAllocator(blockSize int, maxBytes int64) *BlockAllocator {
	if blockSize <= 0 {
		blockSize = 1
	}
	chunkSize := 64
	return &BlockAllocator{
		blockSize: blockSize,
		chunkSize: chunkSize,
		maxBytes:  maxBytes,
		live:      make(map[*byte]block),
	}
}

// Alloc returns a zeroed block of BlockSize() bytes.
func (b *BlockAllocator) Alloc() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.freeList) > 0 {
		blk := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		buf := b.slice(blk)
		clear(buf)
		b.live[&buf[0]] = blk
		return buf, nil
	}

	chunkBytes := int64(b.chunkSize * b.blockSize)
	if b.allocBytes+chunkBytes > b.maxBytes && b.maxBytes > 0 {
		return nil, fmt.Errorf("%w: block allocator at %d/%d bytes", slideerr.ErrOutOfMemory, b.allocBytes, b.maxBytes)
	}

	chunkIdx := len(b.chunks)
	chunk := make([]byte, b.chunkSize*b.blockSize)
	b.chunks = append(b.chunks, chunk)
	b.allocBytes += chunkBytes

	for i := 1; i < b.chunkSize; i++ {
		b.freeList = append(b.freeList, block{chunk: chunkIdx, index: i})
	}
	buf := chunk[0:b.blockSize]
	b.live[&buf[0]] = block{chunk: chunkIdx, index: 0}
	return buf, nil
}

// Free returns a block to the pool. buf must have been returned by Alloc
// on this allocator and not modified in length.
func (b *BlockAllocator) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	blk, ok := b.live[&buf[0]]
	if !ok {
		return
	}
	delete(b.live, &buf[0])
	b.freeList = append(b.freeList, blk)
}

func (b *BlockAllocator) slice(blk block) []byte {
	chunk := b.chunks[blk.chunk]
	start := blk.index * b.blockSize
	return chunk[start : start+b.blockSize]
}

// BlockSize returns the fixed block size in bytes.
func (b *BlockAllocator) BlockSize() int { return b.blockSize }

// Stats reports current allocator usage.
func (b *BlockAllocator) Stats() (allocatedBytes int64, freeBlocks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocBytes, len(b.freeList)
}
