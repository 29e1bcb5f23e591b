package reader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"

	apperrors "hdxscraper/internal/errors"
)

// S3Config configures access to s3:// sources.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// FetcherConfig configures retrieval of raw bytes.
type FetcherConfig struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	UserAgent         string
	S3                *S3Config
}

// Fetcher opens local files, HTTP(S) URLs and s3://bucket/key objects.
// HTTP requests share one rate limiter.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	s3        *minio.Client
	userAgent string
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher. An S3 client is only created when S3 is set.
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "hdxscraper"
	}
	f := &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		userAgent: cfg.UserAgent,
		logger:    loggerOrDefault(logger),
	}
	if cfg.S3 != nil && strings.TrimSpace(cfg.S3.Endpoint) != "" {
		region := cfg.S3.Region
		if region == "" {
			region = "us-east-1"
		}
		client, err := minio.New(strings.TrimSpace(cfg.S3.Endpoint), &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
			Secure: cfg.S3.UseSSL,
			Region: region,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 client: %w", err)
		}
		f.s3 = client
	}
	return f, nil
}

// Open returns the raw bytes behind url.
func (f *Fetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(url, "s3://"):
		return f.openS3(ctx, strings.TrimPrefix(url, "s3://"))
	case strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://"):
		return f.openHTTP(ctx, url)
	}
	path := strings.TrimPrefix(url, "file://")
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("opening %s", path), err)
	}
	return file, nil
}

func (f *Fetcher) openHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewSourceUnavailableError("waiting for rate limiter", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("bad url %s", url), err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("downloading %s", url), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("downloading %s", url), fmt.Errorf("status %d", resp.StatusCode)).
			WithContext("status", resp.StatusCode)
	}
	f.logger.Debug("source_downloaded",
		slog.String("url", url),
		slog.Duration("duration", time.Since(start)))
	return resp.Body, nil
}

func (f *Fetcher) openS3(ctx context.Context, path string) (io.ReadCloser, error) {
	if f.s3 == nil {
		return nil, apperrors.NewConfigError("s3 source requested but no s3 endpoint configured", nil)
	}
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return nil, apperrors.NewConfigError(fmt.Sprintf("bad s3 location %q", path), nil)
	}
	obj, err := f.s3.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("getting s3://%s", path), err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		errResp := minio.ToErrorResponse(err)
		return nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("getting s3://%s", path), err).
			WithContext("code", errResp.Code)
	}
	return obj, nil
}
