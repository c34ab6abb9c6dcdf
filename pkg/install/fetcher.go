package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultReleaseURL is where daemon release artifacts are published
const DefaultReleaseURL = "https://github.com/prometheus/prometheus/releases/download"

// Fetcher retrieves release artifacts. Implementations bound their own
// request time; the install manager does not add a deadline.
type Fetcher interface {
	// Fetch opens the release archive for version
	Fetch(ctx context.Context, version string) (io.ReadCloser, error)

	// Checksum returns the published SHA-256 digest of the archive
	Checksum(ctx context.Context, version string) (string, error)
}

// HTTPFetcher downloads release archives over HTTP
type HTTPFetcher struct {
	// BaseURL is the release download root; "/v<version>/<file>" is appended
	BaseURL string

	// OS and Arch select the archive flavor
	OS   string
	Arch string

	// Client is the HTTP client to use; its Timeout bounds each request
	Client *http.Client

	// MaxElapsed bounds retries of transient failures
	MaxElapsed time.Duration
}

// NewHTTPFetcher creates a fetcher for the running platform
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	if baseURL == "" {
		baseURL = DefaultReleaseURL
	}
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		MaxElapsed: 2 * time.Minute,
	}
}

// ArtifactName is the archive file name for version
func (f *HTTPFetcher) ArtifactName(version string) string {
	return fmt.Sprintf("prometheus-%s.%s-%s.tar.gz", version, f.OS, f.Arch)
}

func (f *HTTPFetcher) url(version, file string) string {
	return fmt.Sprintf("%s/v%s/%s", f.BaseURL, version, file)
}

// Fetch opens the release archive. The caller closes the returned body.
func (f *HTTPFetcher) Fetch(ctx context.Context, version string) (io.ReadCloser, error) {
	if err := supportedArch(f.Arch); err != nil {
		return nil, err
	}
	resp, err := f.get(ctx, f.url(version, f.ArtifactName(version)))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Checksum downloads sha256sums.txt and returns the archive's entry
func (f *HTTPFetcher) Checksum(ctx context.Context, version string) (string, error) {
	resp, err := f.get(ctx, f.url(version, "sha256sums.txt"))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read checksum list: %w", err)
	}
	return parseChecksumFile(data, f.ArtifactName(version))
}

// get retries connection errors, 429 and 5xx with exponential backoff. Any
// other non-200 status is permanent.
func (f *HTTPFetcher) get(ctx context.Context, url string) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	operation := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()

		statusErr := fmt.Errorf("GET %s: HTTP %d %s", url, resp.StatusCode, http.StatusText(resp.StatusCode))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(f.MaxElapsed),
	)
}

func supportedArch(arch string) error {
	switch arch {
	case "amd64", "arm64", "386", "ppc64le", "s390x":
		return nil
	}
	return fmt.Errorf("unsupported architecture: %s", arch)
}
