package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// ChunkSize is the read buffer used while streaming a download.
const ChunkSize = 64 * 1024

// HTTPError is returned for a non-2xx response.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// ProgressFunc is called after every chunk written. total is -1 when the
// server did not announce a length.
type ProgressFunc func(written, total int64)

// Fetcher streams HTTP downloads to files.
type Fetcher struct {
	Client    *retryablehttp.Client
	UserAgent string
}

// NewFetcher returns a Fetcher that retries transient failures up to retries
// times. Zero means a single attempt.
func NewFetcher(retries int) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = max(retries, 0)
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	// hand the last response back so the status is reported as an HTTPError
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Fetcher{Client: client, UserAgent: "rcboot"}
}

// Fetch downloads url into dest, replacing any existing file, and returns the
// number of bytes written. A partial file is left behind on failure.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, onChunk ProgressFunc) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", url, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	resp, err := f.Client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &HTTPError{URL: url, Status: resp.StatusCode}
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, err := copyChunks(out, resp.Body, resp.ContentLength, onChunk)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", dest, cerr)
	}
	return n, err
}

func copyChunks(w io.Writer, r io.Reader, total int64, onChunk ProgressFunc) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write: %w", err)
			}
			written += int64(n)
			if onChunk != nil {
				onChunk(written, total)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read body: %w", rerr)
		}
	}
}
