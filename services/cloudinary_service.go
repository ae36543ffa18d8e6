package services

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/sirupsen/logrus"
)

// CloudinaryService stores uploads on Cloudinary. Keys are Cloudinary public
// ids (folder included).
type CloudinaryService struct {
	cld *cloudinary.Cloudinary
	log logrus.FieldLogger
}

// NewCloudinaryService connects using a cloudinary:// URL
func NewCloudinaryService(cloudinaryURL string, log logrus.FieldLogger) (*CloudinaryService, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true

	return &CloudinaryService{cld: cld, log: log.WithField("component", "cloudinary")}, nil
}

func (s *CloudinaryService) Upload(ctx context.Context, fileHeader *multipart.FileHeader, folder string) (string, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	// Cloudinary appends the extension itself
	key := strings.TrimSuffix(objectKey(folder, fileHeader.Filename), filepath.Ext(fileHeader.Filename))

	result, err := s.cld.Upload.Upload(ctx, src, uploader.UploadParams{
		PublicID:     key,
		ResourceType: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to cloudinary: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected upload: %s", result.Error.Message)
	}

	s.log.WithField("public_id", result.PublicID).Debug("Uploaded object")
	return result.PublicID, nil
}

func (s *CloudinaryService) URL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	asset, err := s.cld.Image(key)
	if err != nil {
		return "", fmt.Errorf("failed to build cloudinary url: %w", err)
	}
	return asset.String()
}

func (s *CloudinaryService) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	result, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: key})
	if err != nil {
		return fmt.Errorf("failed to delete from cloudinary: %w", err)
	}
	if result.Error.Message != "" {
		return fmt.Errorf("cloudinary rejected delete: %s", result.Error.Message)
	}
	return nil
}
