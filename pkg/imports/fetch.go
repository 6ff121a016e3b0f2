package imports

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/queue"
)

// Fetcher downloads remote image references and feeds them through the
// upload engine. It is the handler for queue.KindImageFetch jobs.
// HTTP(S) URLs go through its HTTP client, s3:// URLs through the S3
// client.
type Fetcher struct {
	resolver *Resolver
	client   *http.Client
	s3       *s3.Client
}

// NewFetcher creates a fetch handler. timeout bounds one HTTP download
// end to end. s3c may be nil, in which case s3:// references fail.
func NewFetcher(resolver *Resolver, timeout time.Duration, s3c *s3.Client) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		resolver: resolver,
		client:   &http.Client{Timeout: timeout},
		s3:       s3c,
	}
}

// Handle downloads the job's source URL, ingests it as a completed
// upload, and attaches the resulting image to the product. Errors
// propagate to the queue's retry schedule.
func (f *Fetcher) Handle(ctx context.Context, job queue.Job) error {
	payload, ok := job.Payload.(FetchPayload)
	if !ok {
		return fmt.Errorf("image fetch job %s: unexpected payload %T", job.Key, job.Payload)
	}

	local, cleanup, err := f.download(ctx, payload.Source)
	if err != nil {
		return err
	}
	defer cleanup()

	u, err := f.resolver.uploads.IngestFile(ctx, local)
	if err != nil {
		return fmt.Errorf("ingest fetched image %s: %w", payload.Source, err)
	}

	img, err := f.resolver.ensureOriginalImage(ctx, u)
	if err != nil {
		return err
	}
	if err := f.resolver.attach(ctx, payload.ProductID, img.ID); err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Remote image attached",
		logger.KeyProductID, payload.ProductID,
		logger.KeyImageRef, payload.Source,
		logger.KeyUploadID, u.ID)
	return nil
}

// download fetches the URL into a temp file named after the URL's
// basename, so the ingested upload keeps a meaningful filename.
func (f *Fetcher) download(ctx context.Context, source string) (string, func(), error) {
	parsed, err := url.Parse(source)
	if err != nil {
		return "", nil, fmt.Errorf("parse image URL %q: %w", source, err)
	}

	var body io.ReadCloser
	switch parsed.Scheme {
	case "http", "https":
		body, err = f.httpOpen(ctx, source)
	case "s3":
		body, err = f.s3Open(ctx, parsed)
	default:
		err = fmt.Errorf("unsupported image URL scheme %q", parsed.Scheme)
	}
	if err != nil {
		return "", nil, err
	}
	defer body.Close()

	dir, err := os.MkdirTemp("", "catalogd-fetch-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	base := path.Base(parsed.Path)
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	dst := filepath.Join(dir, base)

	out, err := os.Create(dst)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	maxSize := f.resolver.uploads.MaxFileSize()
	n, err := io.Copy(out, io.LimitReader(body, maxSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("download %s: %w", source, err)
	}
	if n > maxSize {
		cleanup()
		return "", nil, fmt.Errorf("download %s: exceeds size limit", source)
	}

	return dst, cleanup, nil
}

// httpOpen issues the GET for an http(s) reference and returns the
// response body after checking the status.
func (f *Fetcher) httpOpen(ctx context.Context, source string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", source, resp.StatusCode)
	}
	return resp.Body, nil
}
