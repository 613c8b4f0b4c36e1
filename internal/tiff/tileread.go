package tiff

import (
	"fmt"

	"github.com/cytoslide/slidecore/internal/ioutil"
	"github.com/cytoslide/slidecore/internal/slideerr"
)

// ReadTile fetches and decodes the tile at (col, row) in the given IFD,
// returning a BGRA pixel buffer sized TileWidth*TileHeight*4 bytes, or a
// nil buffer for a tile whose byte count is zero (spec.md's empty-tile
// case — the caller should mark the pyramid.Tile IsEmpty rather than
// treat this as an error).
func ReadTile(handle ioutil.Handle, ifd *IFD, col, row int) ([]byte, error) {
	tilesAcross := ifd.TilesAcross()
	idx := row*tilesAcross + col
	if idx < 0 || idx >= len(ifd.TileOffsets) || idx >= len(ifd.TileByteCounts) {
		return nil, fmt.Errorf("%w: tile (%d,%d) out of range", slideerr.ErrMalformedContainer, col, row)
	}

	offset := ifd.TileOffsets[idx]
	size := ifd.TileByteCounts[idx]
	if size == 0 {
		return nil, nil
	}

	raw := make([]byte, size)
	if _, err := handle.ReadAt(raw, int64(offset)); err != nil {
		return nil, err
	}

	w, h := int(ifd.TileWidth), int(ifd.TileHeight)
	return decodeTileToBGRA(ifd, raw, w, h)
}
