// internal/messaging/storage.go
// Conversation avatar uploads

package messaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

const maxAvatarSize = 5 << 20

var allowedAvatarTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

type StorageService interface {
	// Upload stores file under key and returns its public URL.
	Upload(ctx context.Context, key string, file io.Reader, contentType string) (string, error)
}

type s3Storage struct {
	client     s3iface.S3API
	bucketName string
	baseURL    string
}

// NewS3Storage uploads to bucketName. baseURL prefixes returned URLs and
// defaults to the bucket's public endpoint.
func NewS3Storage(awsSession *session.Session, bucketName, baseURL string) StorageService {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucketName, aws.StringValue(awsSession.Config.Region))
	}
	return &s3Storage{
		client:     s3.New(awsSession),
		bucketName: bucketName,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

func (s *s3Storage) Upload(ctx context.Context, key string, file io.Reader, contentType string) (string, error) {
	data, err := readAvatar(file, contentType)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		ACL:           aws.String("public-read"),
		Metadata: map[string]*string{
			"uploaded-at": aws.String(time.Now().Format(time.RFC3339)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

type localStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage writes uploads below dir and serves them from
// baseURL + "/uploads/".
func NewLocalStorage(dir, baseURL string) StorageService {
	return &localStorage{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *localStorage) Upload(ctx context.Context, key string, file io.Reader, contentType string) (string, error) {
	data, err := readAvatar(file, contentType)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	return fmt.Sprintf("%s/uploads/%s", s.baseURL, key), nil
}

func readAvatar(file io.Reader, contentType string) ([]byte, error) {
	if !isAllowedAvatarType(contentType) {
		return nil, fmt.Errorf("%w: file type %s not allowed", ErrInvalidRequest, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(file, maxAvatarSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxAvatarSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidRequest, maxAvatarSize)
	}
	return data, nil
}

func isAllowedAvatarType(contentType string) bool {
	for _, t := range allowedAvatarTypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}
