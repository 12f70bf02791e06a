// Package fetch downloads glacier directories from remote storage into a
// local dataset root.
package fetch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Backend reads objects by slash-separated relative path. Missing objects
// return an error matching fs.ErrNotExist.
type Backend interface {
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)
}

func notFound(path string) error {
	return fmt.Errorf("%s: %w", path, fs.ErrNotExist)
}

// LocalBackend serves objects from a directory, e.g. a shared mount.
type LocalBackend struct {
	Root string
}

func (b LocalBackend) OpenRead(_ context.Context, path string) (io.ReadCloser, error) {
	//nolint:gosec // G304: Path is relative to the configured root.
	f, err := os.Open(filepath.Join(b.Root, filepath.FromSlash(path)))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// HTTPBackend fetches objects below a base URL.
type HTTPBackend struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPBackend creates a backend with a bounded request timeout.
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	url := b.BaseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, notFound(path)
	case resp.StatusCode != http.StatusOK:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return resp.Body, nil
}
