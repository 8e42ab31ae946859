package catalog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPError is a non-retryable (or retries-exhausted) catalog response.
type HTTPError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("catalog: %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

// Option configures the SAMWeb client.
type Option func(*SAMWeb)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *SAMWeb) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second; rps <= 0 disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *SAMWeb) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxAttempts sets the total attempts per request, first try included.
func WithMaxAttempts(n int) Option {
	return func(c *SAMWeb) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial retry backoff (doubled on each retry).
func WithBackoff(d time.Duration) Option {
	return func(c *SAMWeb) {
		c.backoff = d
	}
}

// SAMWeb implements Catalog over the SAMWeb REST API.
type SAMWeb struct {
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
}

// NewSAMWeb creates a client rooted at baseURL, e.g.
// https://samweb.fnal.gov:8483/sam/icarus/api.
func NewSAMWeb(baseURL string, opts ...Option) *SAMWeb {
	c := &SAMWeb{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter:     rate.NewLimiter(10, 10),
		maxAttempts: 3,
		backoff:     1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListFiles returns the files of a dataset definition, one per line of the
// plain-text response.
func (c *SAMWeb) ListFiles(ctx context.Context, definition string) ([]string, error) {
	body, err := c.get(ctx, "/files/list", url.Values{"defname": {definition}})
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: list files of %s", definition)
	}

	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			files = append(files, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "catalog: read file list of %s", definition)
	}
	return files, nil
}

type fileMetadata struct {
	FileName string `json:"file_name"`
	Parents  []struct {
		FileName string `json:"file_name"`
		FileID   int64  `json:"file_id"`
	} `json:"parents"`
}

// Parent returns the first parent listed in the file's metadata.
func (c *SAMWeb) Parent(ctx context.Context, filename string) (string, error) {
	body, err := c.get(ctx, "/files/name/"+url.PathEscape(filename)+"/metadata", url.Values{"format": {"json"}})
	if err != nil {
		return "", eris.Wrapf(err, "catalog: metadata of %s", filename)
	}

	var md fileMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return "", eris.Wrapf(err, "catalog: decode metadata of %s", filename)
	}
	if len(md.Parents) == 0 || md.Parents[0].FileName == "" {
		return "", eris.Wrapf(ErrNoParent, "catalog: %s", filename)
	}
	return md.Parents[0].FileName, nil
}

type fileLocation struct {
	FullPath string `json:"full_path"`
	Location string `json:"location"`
}

// Locate returns the directory of the first known location, with the
// storage prefix ("enstore:", "dcache:") removed.
func (c *SAMWeb) Locate(ctx context.Context, filename string) (string, error) {
	body, err := c.get(ctx, "/files/name/"+url.PathEscape(filename)+"/locations", url.Values{"format": {"json"}})
	if err != nil {
		return "", eris.Wrapf(err, "catalog: locations of %s", filename)
	}

	var locs []fileLocation
	if err := json.Unmarshal(body, &locs); err != nil {
		return "", eris.Wrapf(err, "catalog: decode locations of %s", filename)
	}
	for _, l := range locs {
		if dir := stripStorage(l.FullPath); dir != "" {
			return dir, nil
		}
	}
	return "", eris.Wrapf(ErrNoLocation, "catalog: %s", filename)
}

// stripStorage removes a "<storage>:" prefix from a SAM full_path.
func stripStorage(fullPath string) string {
	if idx := strings.IndexByte(fullPath, ':'); idx >= 0 {
		return fullPath[idx+1:]
	}
	return fullPath
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// get issues a rate-limited GET with exponential backoff retries on
// transport errors and retryable status codes.
func (c *SAMWeb) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "catalog: rate limit wait")
		}

		body, retry, err := c.do(ctx, u, path)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil || attempt == c.maxAttempts {
			break
		}

		zap.L().Warn("retrying catalog request",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *SAMWeb) do(ctx context.Context, u, path string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "catalog: build request")
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, true, eris.Wrap(err, "catalog: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retryableStatusCode(resp.StatusCode), &HTTPError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return body, false, nil
}
