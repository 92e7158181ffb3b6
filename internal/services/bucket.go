package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/clipsight/clipsight-backend/internal/apperr"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

type BucketCategory string

const (
	BucketCategoryVideos BucketCategory = "videos"
	BucketCategoryFrames BucketCategory = "frames"
)

// BucketService wraps GCS access for the two private buckets. Stored
// references follow the "{bucket}/{key}" convention; readers split on the
// first slash to recover bucket vs key.
type BucketService interface {
	Upload(ctx context.Context, category BucketCategory, key string, data io.Reader, contentType string) (string, error)
	SignedURL(ctx context.Context, category BucketCategory, key string, expiresIn time.Duration) (string, error)
	Download(ctx context.Context, category BucketCategory, key string, destPath string) error
	// StoredRef builds the "{bucket}/{key}" reference persisted in the catalog.
	StoredRef(category BucketCategory, key string) string
	// KeyFromRef strips the category's bucket-name prefix from a stored
	// reference; an unprefixed reference is returned as-is.
	KeyFromRef(category BucketCategory, ref string) string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	videosBucket  string
	framesBucket  string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	videosBucket := utils.GetEnv("BUCKET_VIDEOS", "videos", log)
	framesBucket := utils.GetEnv("BUCKET_FRAMES", "frames", log)

	saPath := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")
	if saPath == "" {
		serviceLog.Warn("GOOGLE_APPLICATION_CREDENTIALS_JSON not set; storage client will rely on ADC")
	}
	ctx := context.Background()
	var stClient *storage.Client
	var err error
	if saPath != "" {
		stClient, err = storage.NewClient(ctx, option.WithCredentialsFile(saPath), option.WithScopes(storage.ScopeReadWrite))
	} else {
		stClient, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		videosBucket:  videosBucket,
		framesBucket:  framesBucket,
	}, nil
}

func (bs *bucketService) bucketName(category BucketCategory) (string, error) {
	switch category {
	case BucketCategoryVideos:
		return bs.videosBucket, nil
	case BucketCategoryFrames:
		return bs.framesBucket, nil
	default:
		return "", fmt.Errorf("unknown bucket category: %s", category)
	}
}

func (bs *bucketService) Upload(ctx context.Context, category BucketCategory, key string, data io.Reader, contentType string) (string, error) {
	name, err := bs.bucketName(category)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(name).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("%w: write %s/%s: %v", apperr.ErrStorage, name, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: close writer for %s/%s: %v", apperr.ErrStorage, name, key, err)
	}
	return bs.StoredRef(category, key), nil
}

func (bs *bucketService) SignedURL(ctx context.Context, category BucketCategory, key string, expiresIn time.Duration) (string, error) {
	name, err := bs.bucketName(category)
	if err != nil {
		return "", err
	}
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	url, err := bs.storageClient.Bucket(name).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expiresIn),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("%w: sign %s/%s: %v", apperr.ErrStorage, name, key, err)
	}
	return url, nil
}

func (bs *bucketService) Download(ctx context.Context, category BucketCategory, key string, destPath string) error {
	name, err := bs.bucketName(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := bs.storageClient.Bucket(name).Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("%w: open %s/%s: %v", apperr.ErrStorage, name, key, err)
	}
	defer r.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", apperr.ErrStorage, destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("%w: download %s/%s: %v", apperr.ErrStorage, name, key, err)
	}
	return nil
}

func (bs *bucketService) StoredRef(category BucketCategory, key string) string {
	name, err := bs.bucketName(category)
	if err != nil {
		return key
	}
	return fmt.Sprintf("%s/%s", name, strings.TrimLeft(key, "/"))
}

func (bs *bucketService) KeyFromRef(category BucketCategory, ref string) string {
	name, err := bs.bucketName(category)
	if err != nil {
		return ref
	}
	return strings.TrimPrefix(ref, name+"/")
}
