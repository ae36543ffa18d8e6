package services

import (
	"context"
	"fmt"
	"mime/multipart"

	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
)

// Compensations collects undo actions for side effects performed during an
// operation. Run is only meant to be called on the failure path.
type Compensations struct {
	actions []compensation
}

type compensation struct {
	name string
	fn   func(context.Context) error
}

// Add registers an undo action
func (c *Compensations) Add(name string, fn func(context.Context) error) {
	c.actions = append(c.actions, compensation{name: name, fn: fn})
}

// Run executes the registered actions in reverse order. Failures are logged
// and do not stop the remaining actions.
func (c *Compensations) Run(ctx context.Context, log logrus.FieldLogger) {
	for i := len(c.actions) - 1; i >= 0; i-- {
		action := c.actions[i]
		if err := action.fn(ctx); err != nil {
			log.WithError(err).WithField("action", action.name).Warn("Compensating action failed")
		}
	}
	c.actions = nil
}

// MediaService validates uploads and stores them through a Storage backend
type MediaService struct {
	storage Storage
	log     logrus.FieldLogger
}

// NewMediaService creates a MediaService
func NewMediaService(storage Storage, log logrus.FieldLogger) *MediaService {
	return &MediaService{storage: storage, log: log.WithField("component", "media")}
}

// UploadAll validates every file before uploading any of them, then uploads
// them one by one. Each stored file registers its own deletion on undo, so a
// caller that fails later can remove everything that was written.
func (s *MediaService) UploadAll(ctx context.Context, kind utils.UploadKind, folder string, files []*multipart.FileHeader, undo *Compensations) ([]string, error) {
	for _, fh := range files {
		if err := utils.ValidateUpload(kind, fh); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(files))
	for _, fh := range files {
		key, err := s.storage.Upload(ctx, fh, folder)
		if err != nil {
			return nil, utils.Upstream("UPLOAD_FAILED", fmt.Sprintf("Failed to upload %s", fh.Filename), err)
		}
		keys = append(keys, key)
		undo.Add("delete "+key, func(ctx context.Context) error {
			return s.storage.Delete(ctx, key)
		})
	}

	return keys, nil
}

// URLs resolves keys into client facing URLs. Keys that fail to resolve are
// skipped and logged.
func (s *MediaService) URLs(ctx context.Context, keys []string) []string {
	if len(keys) == 0 {
		return nil
	}

	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		url, err := s.storage.URL(ctx, key)
		if err != nil {
			s.log.WithError(err).WithField("key", key).Warn("Failed to resolve object URL")
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

// DeleteAll removes keys from storage, logging failures
func (s *MediaService) DeleteAll(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("Failed to delete stored object")
		}
	}
}
