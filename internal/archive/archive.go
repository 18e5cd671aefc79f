// Package archive stores raw fetch payloads (SERP JSON, sitemap XML, page HTML) in MinIO.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/apperrors"
	"github.com/jonesrussell/north-cloud/rank-tracker/internal/logger"
)

const serviceName = "blob_store"

// Config configures the MinIO store.
type Config struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// Store archives payloads under an object key and returns a reference to them.
type Store interface {
	Store(ctx context.Context, key string, data []byte) (string, error)
}

// New returns a MinIO-backed store, or a NopStore when archiving is disabled.
func New(cfg Config, log logger.Logger) (Store, error) {
	if !cfg.Enabled {
		if log != nil {
			log.Info("MinIO archiving disabled")
		}
		return NopStore{}, nil
	}
	return NewMinIOStore(cfg, log)
}

// MinIOStore writes objects to a single bucket.
type MinIOStore struct {
	client *miniogo.Client
	bucket string
	log    logger.Logger
}

// NewMinIOStore creates a MinIO client for cfg.
func NewMinIOStore(cfg Config, log logger.Logger) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOStore{client: client, bucket: cfg.Bucket, log: log}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return apperrors.NewExternal(serviceName, fmt.Errorf("check bucket: %w", err))
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
		return apperrors.NewExternal(serviceName, fmt.Errorf("create bucket: %w", err))
	}
	s.log.Info("Created MinIO bucket", logger.String("bucket", s.bucket))
	return nil
}

// Store uploads data under key and returns the object URL.
func (s *MinIOStore) Store(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		miniogo.PutObjectOptions{ContentType: contentType(key)},
	)
	if err != nil {
		return "", apperrors.NewExternal(serviceName, fmt.Errorf("put %s: %w", key, err))
	}

	s.log.Debug("Archived object",
		logger.String("object_key", key),
		logger.Int("size", len(data)),
	)

	return strings.TrimSuffix(s.client.EndpointURL().String(), "/") + "/" + s.bucket + "/" + key, nil
}

// NopStore discards payloads and returns an empty reference.
type NopStore struct{}

func (NopStore) Store(context.Context, string, []byte) (string, error) {
	return "", nil
}

// ObjectKey builds {kind}/{owner}/{yyyy}/{mm}/{dd}/{hash}_{timestamp}{ext}, where hash
// is derived from name.
func ObjectKey(kind, owner, name string, ts time.Time, ext string) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s_%s%s",
		sanitize(kind),
		sanitize(owner),
		ts.Format("2006"),
		ts.Format("01"),
		ts.Format("02"),
		hashName(name),
		ts.Format("20060102150405"),
		ext,
	)
}

func hashName(name string) string {
	h := sha256.Sum256([]byte(name))
	return hex.EncodeToString(h[:])[:8]
}

var (
	invalidObjectNameChars = regexp.MustCompile(`[\\?*|<>:"\x00-\x1F./ ]`)
	consecutiveUnderscores = regexp.MustCompile(`_{2,}`)
)

func sanitize(s string) string {
	normalized := invalidObjectNameChars.ReplaceAllString(strings.ToLower(s), "_")
	normalized = strings.Trim(consecutiveUnderscores.ReplaceAllString(normalized, "_"), "_")
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
