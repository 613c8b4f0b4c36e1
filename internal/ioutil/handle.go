// Package ioutil is the byte I/O substrate every container reader builds
// on: positional reads against a local file handle, sequential streams for
// walking IFDs and INI/index files, and a remote chunk fetcher for slides
// served over HTTP. Nothing above this package needs to know whether bytes
// came from mmap, pread, or a socket.
package ioutil

import (
	"fmt"
	"os"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// Handle is random-access byte storage for one open container. A Handle
// must support concurrent ReadAt calls from multiple worker threads: the
// tile loader in internal/loader calls it from every worker without a
// lock.
type Handle interface {
	ReadAt(dest []byte, offset int64) (int, error)
	Size() int64
	Close() error
}

// localHandle wraps *os.File. os.File.ReadAt already gives pread/seek+read
// semantics that are safe for concurrent callers on every platform Go
// supports, so no platform-specific mmap plumbing is needed at this layer
// (mmap, where it helps, stays an internal optimization inside a specific
// container reader rather than living in the substrate).
type localHandle struct {
	f    *os.File
	size int64
}

// OpenLocal opens a local file for positional reads.
func OpenLocal(path string) (Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", slideerr.ErrIoError, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", slideerr.ErrIoError, path, err)
	}
	return &localHandle{f: f, size: info.Size()}, nil
}

func (h *localHandle) ReadAt(dest []byte, offset int64) (int, error) {
	n, err := h.f.ReadAt(dest, offset)
	if err != nil && n < len(dest) {
		return n, fmt.Errorf("%w: %v", slideerr.ErrShortRead, err)
	}
	return n, nil
}

func (h *localHandle) Size() int64 { return h.size }

func (h *localHandle) Close() error {
	if err := h.f.Close(); err != nil {
		return fmt.Errorf("%w: %v", slideerr.ErrIoError, err)
	}
	return nil
}
