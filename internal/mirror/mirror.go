// Package mirror copies profile pictures from the provider CDN into our own
// bucket so dashboards keep rendering after CDN URLs expire.
package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxPictureBytes = 10 << 20

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	PublicBaseURL string
	UseSSL        bool
}

type Mirror struct {
	client     *minio.Client
	httpClient *http.Client
	bucket     string
	publicBase string
	now        func() time.Time
}

func New(cfg Config, httpClient *http.Client) (*Mirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Mirror{
		client:     client,
		httpClient: httpClient,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		now:        time.Now,
	}, nil
}

func objectKey(clientID string) string {
	return fmt.Sprintf("profile-pictures/%s", clientID)
}

// Mirror downloads sourceURL and stores it as the client's picture. The
// returned URL carries a version query so browsers drop stale copies.
func (m *Mirror) Mirror(ctx context.Context, clientID, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("building picture request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading picture: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading picture: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPictureBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading picture: %w", err)
	}
	if len(data) > maxPictureBytes {
		return "", fmt.Errorf("picture exceeds %d bytes", maxPictureBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	key := objectKey(clientID)
	_, err = m.client.PutObject(ctx, m.bucket, key, strings.NewReader(string(data)), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=86400",
	})
	if err != nil {
		return "", fmt.Errorf("failed to save picture to S3: %w", err)
	}

	slog.DebugContext(ctx, "profile picture mirrored", "key", key, "bytes", len(data))

	return fmt.Sprintf("%s/%s/%s?v=%d", m.publicBase, m.bucket, key, m.now().Unix()), nil
}
