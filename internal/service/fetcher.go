package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yokitheyo/vidjoin/internal/metrics"
)

const bytesPerMB = 1024 * 1024

var videoExts = []string{".mp4", ".avi", ".mkv", ".mov", ".wmv", ".webm", ".m4v"}

var ErrTooLarge = errors.New("file too large")

// FetchError names the source that could not be downloaded.
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to download %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to download %s: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

type FetcherOptions struct {
	Timeout       time.Duration
	MaxFileSizeMB int64
	UserAgent     string
}

// Fetcher streams remote sources to local files.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	log       zerolog.Logger
}

func NewFetcher(opts FetcherOptions, log zerolog.Logger) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Minute
	}
	return &Fetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		maxBytes:  opts.MaxFileSizeMB * bytesPerMB,
		userAgent: opts.UserAgent,
		log:       log,
	}
}

// Fetch downloads rawURL into dest. On any failure dest is removed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &FetchError{URL: rawURL, Reason: "bad request", Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &FetchError{URL: rawURL, Reason: "cancelled", Err: ctxErr}
		}
		return &FetchError{URL: rawURL, Reason: "network error", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{URL: rawURL, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return &FetchError{URL: rawURL, Reason: fmt.Sprintf("%d bytes", resp.ContentLength), Err: ErrTooLarge}
	}

	out, err := os.Create(dest)
	if err != nil {
		return &FetchError{URL: rawURL, Reason: "create file", Err: err}
	}

	var body io.Reader = resp.Body
	var lr *io.LimitedReader
	if f.maxBytes > 0 {
		lr = &io.LimitedReader{R: resp.Body, N: f.maxBytes + 1}
		body = lr
	}

	n, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	metrics.BytesFetched.Add(float64(n))

	switch {
	case copyErr != nil:
		os.Remove(dest)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &FetchError{URL: rawURL, Reason: "cancelled", Err: ctxErr}
		}
		return &FetchError{URL: rawURL, Reason: "copy error", Err: copyErr}
	case lr != nil && lr.N <= 0:
		os.Remove(dest)
		return &FetchError{URL: rawURL, Reason: fmt.Sprintf("over %d MB", f.maxBytes/bytesPerMB), Err: ErrTooLarge}
	case closeErr != nil:
		os.Remove(dest)
		return &FetchError{URL: rawURL, Reason: "write file", Err: closeErr}
	}

	f.log.Debug().Str("url", rawURL).Int64("bytes", n).Msg("downloaded source")
	return nil
}

// DestName builds the workspace file name for the i-th source. The index
// prefix keeps names unique and ordered.
func DestName(i int, rawURL string) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "" || base == "/" || base == "." {
		base = "video"
	}
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '\'', '"', ':', '*', '?', '<', '>', '|':
			return '_'
		}
		return r
	}, base)
	if !slices.Contains(videoExts, strings.ToLower(path.Ext(base))) {
		base += ".mp4"
	}
	return fmt.Sprintf("%03d_%s", i, base)
}
