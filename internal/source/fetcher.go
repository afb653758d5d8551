package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedScheme is returned for source refs no fetcher handles.
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
	// ErrNoObjectStore is returned for s3:// refs when no object store is configured.
	ErrNoObjectStore = errors.New("object store not configured")
)

// Fetcher resolves a source ref into encoded audio bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// S3Config configures the s3:// object store.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Multi fetches http(s)://, s3://bucket/key, file:// and bare paths.
type Multi struct {
	http  *http.Client
	store *minio.Client
	log   *zap.Logger
}

// NewMulti creates a fetcher. The object store is optional; an empty endpoint
// leaves s3:// refs unsupported.
func NewMulti(s3 S3Config, log *zap.Logger) (*Multi, error) {
	m := &Multi{
		http: &http.Client{Timeout: 60 * time.Second},
		log:  log,
	}
	if s3.Endpoint == "" {
		return m, nil
	}
	client, err := minio.New(s3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s3.AccessKey, s3.SecretKey, ""),
		Secure: s3.UseSSL,
		Region: s3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	m.store = client
	log.Info("object store configured", zap.String("endpoint", s3.Endpoint), zap.Bool("ssl", s3.UseSSL))
	return m, nil
}

// Fetch implements Fetcher.
func (m *Multi) Fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse source ref %q: %w", ref, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return m.fetchHTTP(ctx, ref)
	case "s3":
		return m.fetchObject(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	case "file":
		return readFile(ctx, u.Path)
	case "":
		return readFile(ctx, ref)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

func (m *Multi) fetchHTTP(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", ref, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}

func (m *Multi) fetchObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if m.store == nil {
		return nil, ErrNoObjectStore
	}
	obj, err := m.store.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
