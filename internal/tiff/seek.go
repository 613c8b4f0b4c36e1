package tiff

import (
	"io"

	"github.com/cytoslide/slidecore/internal/ioutil"
)

// streamSeeker adapts *ioutil.Stream to io.ReadSeeker so ParseAll (written
// against the standard library interface, matching the teacher's
// parseTIFF(r io.ReadSeeker)) can walk an IFD chain over our substrate.
type streamSeeker struct {
	s *ioutil.Stream
}

func (ss streamSeeker) Read(p []byte) (int, error) {
	n, err := ss.s.Read(p)
	if err != nil && err != io.EOF {
		return n, err
	}
	return n, err
}

func (ss streamSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		if err := ss.s.SetPos(offset); err != nil {
			return 0, err
		}
	case io.SeekCurrent:
		if err := ss.s.SetPos(ss.s.Pos() + offset); err != nil {
			return 0, err
		}
	case io.SeekEnd:
		size, err := ss.s.Size()
		if err != nil {
			return 0, err
		}
		if err := ss.s.SetPos(size + offset); err != nil {
			return 0, err
		}
	}
	return ss.s.Pos(), nil
}
