package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dom/pickup-match/internal/config"
	"github.com/google/uuid"
)

const uploadExpiry = 15 * time.Minute

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
}

// PresignedUpload tells a client where to PUT a media file and where it will
// be served from afterwards.
type PresignedUpload struct {
	Key       string    `json:"key"`
	UploadURL string    `json:"uploadUrl"`
	PublicURL string    `json:"publicUrl"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MediaStore issues presigned upload URLs for match media in an
// S3-compatible bucket.
type MediaStore struct {
	presigner *s3.PresignClient
	bucket    string
	publicURL string
}

func NewMediaStore(ctx context.Context, cfg *config.Config) (*MediaStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := cfg.MediaPublicURL
	if publicURL == "" {
		if cfg.S3Endpoint != "" {
			publicURL = strings.TrimRight(cfg.S3Endpoint, "/") + "/" + cfg.S3Bucket
		} else {
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.S3Region)
		}
	}

	return &MediaStore{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.S3Bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// SupportedContentType reports whether media of contentType may be uploaded.
func SupportedContentType(contentType string) bool {
	_, ok := allowedContentTypes[contentType]
	return ok
}

// MediaKey returns a fresh object key for a file attached to a match.
func MediaKey(matchID uuid.UUID, contentType string) string {
	return path.Join("matches", matchID.String(), uuid.NewString()+allowedContentTypes[contentType])
}

// PresignUpload returns a PUT URL valid for a short window.
func (s *MediaStore) PresignUpload(ctx context.Context, matchID uuid.UUID, contentType string) (*PresignedUpload, error) {
	if !SupportedContentType(contentType) {
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}

	key := MediaKey(matchID, contentType)
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(uploadExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	return &PresignedUpload{
		Key:       key,
		UploadURL: req.URL,
		PublicURL: s.publicURL + "/" + key,
		Method:    req.Method,
		ExpiresAt: time.Now().Add(uploadExpiry),
	}, nil
}
