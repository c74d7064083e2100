package services

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrUploadTooLarge = errors.New("image exceeds upload size limit")

// Uploads stages client images as temp files so the encoder can read them by path.
type Uploads struct {
	dir      string
	maxBytes int64
}

func NewUploads(dir string, maxBytes int64) *Uploads {
	return &Uploads{dir: dir, maxBytes: maxBytes}
}

// Stage copies r into a new file. The returned cleanup removes it.
func (u *Uploads) Stage(r io.Reader) (string, func(), error) {
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	f, err := os.CreateTemp(u.dir, "upload-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	n, err := io.Copy(f, io.LimitReader(r, u.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if n > u.maxBytes {
		cleanup()
		return "", nil, ErrUploadTooLarge
	}
	return path, cleanup, nil
}

// StageBase64 decodes a base64 image payload and stages it.
func (u *Uploads) StageBase64(data string) (string, func(), error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return u.Stage(bytes.NewReader(raw))
}
