package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
)

// Storage stores uploaded files. Keys are what the database keeps; URLs are
// resolved on read because some backends only hand out short lived links.
type Storage interface {
	Upload(ctx context.Context, fileHeader *multipart.FileHeader, folder string) (string, error)
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// S3Service stores objects in a private S3 bucket and serves presigned URLs
type S3Service struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	log       logrus.FieldLogger
}

// S3Options configures NewS3Service
type S3Options struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Service initializes the S3 service with AWS credentials
func NewS3Service(ctx context.Context, opts S3Options, log logrus.FieldLogger) (*S3Service, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		)))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig)

	return &S3Service{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    opts.Bucket,
		log:       log.WithField("component", "s3"),
	}, nil
}

// Upload uploads a file to S3 and returns its key
func (s *S3Service) Upload(ctx context.Context, fileHeader *multipart.FileHeader, folder string) (string, error) {
	content, err := readUpload(fileHeader)
	if err != nil {
		return "", err
	}

	key := objectKey(folder, fileHeader.Filename)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(utils.ContentTypeFor(fileHeader.Filename)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.log.WithFields(logrus.Fields{"key": key, "size": len(content)}).Debug("Uploaded object")
	return key, nil
}

// URL generates a presigned URL valid for one hour
func (s *S3Service) URL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	request, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = time.Hour
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return request.URL, nil
}

// Delete deletes a file from S3
func (s *S3Service) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}

	return nil
}

func readUpload(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// objectKey builds a collision free key: {folder}/{uuid}{ext}
func objectKey(folder, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = "uploads"
	}
	return fmt.Sprintf("%s/%s%s", folder, uuid.NewString(), ext)
}
