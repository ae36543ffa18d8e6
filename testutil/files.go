package testutil

import (
	"bytes"
	"mime/multipart"
	"net/textproto"
	"testing"
)

// FileHeader builds a multipart.FileHeader holding content, as gin would
// hand it to a controller
func FileHeader(t *testing.T, field, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", "application/octet-stream")
	part, err := writer.CreatePart(h)
	if err != nil {
		t.Fatalf("Failed to create multipart part: %v", err)
	}
	part.Write(content)
	writer.Close()

	form, err := multipart.NewReader(body, writer.Boundary()).ReadForm(int64(len(content)) + 1024)
	if err != nil {
		t.Fatalf("Failed to read multipart form: %v", err)
	}
	files := form.File[field]
	if len(files) == 0 {
		t.Fatalf("Multipart form has no file %q", field)
	}
	return files[0]
}

// UploadFile is one file part of a multipart request
type UploadFile struct {
	Field    string
	Filename string
	Content  []byte
}

// MultipartBody encodes fields and files as a multipart/form-data request
// body and returns it with its content type
func MultipartBody(t *testing.T, fields map[string]string, files ...UploadFile) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("Failed to write field %s: %v", name, err)
		}
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			t.Fatalf("Failed to create file part: %v", err)
		}
		part.Write(f.Content)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}
