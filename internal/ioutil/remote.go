package ioutil

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// RemoteFetcher downloads a byte range from a remote slide. TLS negotiation
// and socket lifetime are the only things this package owns; everything
// above the HTTP status line (retry policy, auth headers) is the caller's
// problem, matching the Non-goal that networking itself is opaque.
type RemoteFetcher interface {
	DownloadChunk(host string, port int, path string, offset, length int64) ([]byte, int, error)
}

// httpChunkFetcher issues a single-shot Range GET over TLS and parses the
// response by hand: it scans for the CRLFCRLF header terminator the way
// spec.md's wire contract describes, rather than handing the connection to
// net/http's response reader. This keeps the header-boundary behavior
// exactly where the spec pins it down instead of behind a library default.
type httpChunkFetcher struct {
	dialTimeout time.Duration
}

// NewHTTPChunkFetcher returns the default remote chunk fetcher.
func NewHTTPChunkFetcher() RemoteFetcher {
	return &httpChunkFetcher{dialTimeout: 10 * time.Second}
}

func (f *httpChunkFetcher) DownloadChunk(host string, port int, path string, offset, length int64) ([]byte, int, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: f.dialTimeout}, "tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: dialing %s: %v", slideerr.ErrIoError, addr, err)
	}
	defer conn.Close()

	last := offset + length - 1
	req := fmt.Sprintf(
		"GET %s HTTP/1.1\r\nHost: %s\r\nRange: bytes=%d-%d\r\nConnection: close\r\n\r\n",
		path, host, offset, last,
	)
	if _, err := io.WriteString(conn, req); err != nil {
		return nil, 0, fmt.Errorf("%w: writing request: %v", slideerr.ErrIoError, err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil && len(raw) == 0 {
		return nil, 0, fmt.Errorf("%w: reading response: %v", slideerr.ErrIoError, err)
	}

	headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, 0, fmt.Errorf("%w: no header terminator in response", slideerr.ErrMalformedContainer)
	}
	statusLine := raw[:bytes.IndexByte(raw, '\n')]
	status := parseStatusCode(statusLine)
	body := raw[headerEnd+4:]

	if status != 200 && status != 206 {
		return body, status, fmt.Errorf("%w: remote returned status %d", slideerr.ErrIoError, status)
	}
	if int64(len(body)) < length {
		return body, status, fmt.Errorf("%w: wanted %d bytes, got %d", slideerr.ErrShortRead, length, len(body))
	}
	return body[:length], status, nil
}

// parseStatusCode extracts the numeric status from an HTTP status line
// such as "HTTP/1.1 206 Partial Content\r".
func parseStatusCode(line []byte) int {
	fields := bytes.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return 0
	}
	return code
}
