package ioutil

import (
	"fmt"
	"io"
	"os"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// Stream is sequential byte access used by parsers that walk a file
// linearly: IFD chains, MRXS Slidedat.ini, Index.dat paging loops. It is
// not required to be safe for concurrent use; each parse gets its own
// Stream.
type Stream struct {
	f   *os.File
	pos int64
}

// OpenStream opens path for sequential reads.
func OpenStream(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", slideerr.ErrIoError, path, err)
	}
	return &Stream{f: f}, nil
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.f.Read(p)
	s.pos += int64(n)
	return n, err
}

func (s *Stream) ReadFull(p []byte) error {
	n, err := io.ReadFull(s.f, p)
	s.pos += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %v", slideerr.ErrShortRead, err)
	}
	return nil
}

func (s *Stream) Pos() int64 { return s.pos }

func (s *Stream) SetPos(offset int64) error {
	n, err := s.f.Seek(offset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("%w: seeking to %d: %v", slideerr.ErrIoError, offset, err)
	}
	s.pos = n
	return nil
}

func (s *Stream) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", slideerr.ErrIoError, err)
	}
	return info.Size(), nil
}

func (s *Stream) Close() error {
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("%w: %v", slideerr.ErrIoError, err)
	}
	return nil
}
