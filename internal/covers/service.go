// Package covers stores article cover images in S3-compatible object storage.
package covers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/mouhebsa/blog-collaborator/internal/util"
)

const maxCoverBytes = 5 << 20

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ErrUnsupportedType is returned for uploads that are not jpeg, png, or webp.
var ErrUnsupportedType = fmt.Errorf("unsupported image type")

// ErrTooLarge is returned when the upload exceeds the size cap.
var ErrTooLarge = fmt.Errorf("cover image too large")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is prepended to object keys when building the stored
	// cover URL. Defaults to the endpoint when empty.
	PublicBaseURL string
}

// Service uploads cover images and hands back their public URL.
type Service struct {
	client *minio.Client
	cfg    Config
	log    zerolog.Logger
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	s := &Service{client: client, cfg: cfg, log: log}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
	}
	s.log.Info().Str("bucket", s.cfg.Bucket).Msg("created cover bucket")
	return nil
}

// Upload stores a cover image for the article and returns its URL.
// size must be the exact content length; contentType decides the extension.
func (s *Service) Upload(ctx context.Context, articleID string, r io.Reader, size int64, contentType string) (string, error) {
	ext, ok := allowedTypes[normalizeContentType(contentType)]
	if !ok {
		return "", ErrUnsupportedType
	}
	if size <= 0 || size > maxCoverBytes {
		return "", ErrTooLarge
	}

	key := fmt.Sprintf("covers/%s/%s%s", articleID, util.NewID("img"), ext)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, r, size, minio.PutObjectOptions{
		ContentType: normalizeContentType(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("store cover: %w", err)
	}
	return s.objectURL(key), nil
}

func (s *Service) objectURL(key string) string {
	base := s.cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + s.cfg.Endpoint
	}
	return strings.TrimRight(base, "/") + "/" + s.cfg.Bucket + "/" + key
}

func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(strings.ToLower(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
