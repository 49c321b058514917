// Package source loads bytes kept outside of the config file: blocklists,
// certificates and keys may live on the filesystem, behind an http url or in
// an s3 bucket.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/semihalev/fdns/config"
)

// maxSize bounds how much is read from a remote source.
const maxSize = 64 << 20

// ErrTooLarge returned when a source is larger than maxSize.
var ErrTooLarge = errors.New("source too large")

// Fetcher returns the current contents of a source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) ([]byte, error)

// Fetch calls f(ctx).
func (f FetcherFunc) Fetch(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// New returns a Fetcher for the configured location.
func New(src config.Source) (Fetcher, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	switch src.Location {
	case config.LocationHTTP:
		return &httpFetcher{
			url:    src.URL,
			client: &http.Client{Timeout: time.Minute},
		}, nil
	case config.LocationS3:
		return &s3Fetcher{bucket: src.Bucket, key: src.Key, region: src.Region}, nil
	default:
		return fileFetcher(src.Path), nil
	}
}

type fileFetcher string

func (f fileFetcher) Fetch(context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

type httpFetcher struct {
	url    string
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("error downloading source: unexpected status %s", resp.Status)
	}

	return readAll(resp.Body)
}

type s3Fetcher struct {
	bucket string
	key    string
	region string
}

func (f *s3Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if f.region != "" {
		opts = append(opts, awsconfig.WithRegion(f.region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	out, err := s3.NewFromConfig(cfg).GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s: %w", f.bucket, f.key, err)
	}
	defer out.Body.Close()

	return readAll(out.Body)
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("error reading source: %w", err)
	}
	if len(data) > maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
