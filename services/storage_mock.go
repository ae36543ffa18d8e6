package services

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"sync"
)

// MockStorage is an in-memory Storage used by tests and the "memory" driver
type MockStorage struct {
	uploadedFiles map[string][]byte // map of key to file content
	mu            sync.RWMutex

	// FailUploadsAfter makes every upload after the first N fail; negative disables
	FailUploadsAfter int
	uploads          int
}

// NewMockStorage creates a new in-memory storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		uploadedFiles:    make(map[string][]byte),
		FailUploadsAfter: -1,
	}
}

// ErrMockUploadFailed is returned by MockStorage when FailUploadsAfter trips
var ErrMockUploadFailed = errors.New("mock storage: upload failed")

func (m *MockStorage) Upload(ctx context.Context, fileHeader *multipart.FileHeader, folder string) (string, error) {
	content, err := readUpload(fileHeader)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUploadsAfter >= 0 && m.uploads >= m.FailUploadsAfter {
		return "", ErrMockUploadFailed
	}
	m.uploads++

	key := objectKey(folder, fileHeader.Filename)
	m.uploadedFiles[key] = content
	return key, nil
}

func (m *MockStorage) URL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	m.mu.RLock()
	_, exists := m.uploadedFiles[key]
	m.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("file not found in mock storage: %s", key)
	}

	return fmt.Sprintf("https://storage.test/%s?mock=true", key), nil
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	m.mu.Lock()
	delete(m.uploadedFiles, key)
	m.mu.Unlock()

	return nil
}

// Keys returns every stored key (for testing assertions)
func (m *MockStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.uploadedFiles))
	for k := range m.uploadedFiles {
		keys = append(keys, k)
	}
	return keys
}

// FileExists checks if a file exists in mock storage
func (m *MockStorage) FileExists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.uploadedFiles[key]
	return exists
}
