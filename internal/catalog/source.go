package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/acossette/telecast/internal/retry"
)

// Source supplies raw catalog snapshot bytes from a well-known location
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPSource reads the snapshot from the authority's catalog endpoint
type HTTPSource struct {
	url     string
	client  *http.Client
	timeout time.Duration
	policy  retry.Policy
}

// NewHTTPSource creates a catalog source for the given URL
func NewHTTPSource(url string, timeout time.Duration, policy retry.Policy) *HTTPSource {
	return &HTTPSource{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
		policy:  policy,
	}
}

// Fetch retrieves the snapshot bytes, retrying transient failures under the
// central retry policy.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	var body []byte

	err := s.policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to build catalog request: %w", err))
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close() // nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("catalog endpoint returned status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// FileSource reads the snapshot from a local file. Used in development and
// together with the fsnotify watcher for push-style reload triggers.
type FileSource struct {
	path string
}

// NewFileSource creates a catalog source for the given file path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Fetch reads the snapshot file
func (s *FileSource) Fetch(_ context.Context) ([]byte, error) {
	return os.ReadFile(s.path)
}

// Path returns the watched file path
func (s *FileSource) Path() string {
	return s.path
}
