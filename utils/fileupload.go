package utils

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
)

const (
	// MaxFileSize is 10MB in bytes
	MaxFileSize = 10 * 1024 * 1024
	// MaxBookingImages caps the number of images attached to one booking
	MaxBookingImages = 5
)

// UploadKind selects the validation rules applied to an uploaded file
type UploadKind string

const (
	UploadKindImage    UploadKind = "image"
	UploadKindDocument UploadKind = "document"
)

var allowedExtensions = map[UploadKind]map[string]string{
	UploadKindImage: {
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".webp": "image/webp",
	},
	UploadKindDocument: {
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".pdf":  "application/pdf",
	},
}

// ValidateUpload checks size and extension of an uploaded file
func ValidateUpload(kind UploadKind, fileHeader *multipart.FileHeader) error {
	if fileHeader == nil {
		return BadRequest("MISSING_FILE", "No file was provided")
	}

	if fileHeader.Size > MaxFileSize {
		return BadRequest(
			"FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum allowed size of %d MB", MaxFileSize/(1024*1024)),
		)
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if _, ok := allowedExtensions[kind][ext]; !ok {
		return BadRequest(
			"INVALID_FILE_FORMAT",
			fmt.Sprintf("Only %s files are allowed for %s uploads", strings.Join(AllowedExtensions(kind), ", "), kind),
		)
	}

	return nil
}

// ValidateImageFile validates a booking image
func ValidateImageFile(fileHeader *multipart.FileHeader) error {
	return ValidateUpload(UploadKindImage, fileHeader)
}

// ValidateDocumentFile validates a provider identity document
func ValidateDocumentFile(fileHeader *multipart.FileHeader) error {
	return ValidateUpload(UploadKindDocument, fileHeader)
}

// ContentTypeFor returns the MIME type implied by a file name
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, exts := range allowedExtensions {
		if ct, ok := exts[ext]; ok {
			return ct
		}
	}
	return "application/octet-stream"
}

// AllowedExtensions lists accepted extensions for kind in a stable order
func AllowedExtensions(kind UploadKind) []string {
	switch kind {
	case UploadKindImage:
		return []string{".png", ".jpg", ".jpeg", ".webp"}
	case UploadKindDocument:
		return []string{".png", ".jpg", ".jpeg", ".pdf"}
	}
	return nil
}
