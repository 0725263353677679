// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package blob

import (
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"time"
)

// Copier copies a file part body. It returns the number of bytes copied.
type Copier func(dst io.Writer, src io.Reader) (int64, error)

// Form writes a multipart/form-data body part by part straight to w,
// so a file part is never held in memory as a whole.
type Form struct {
	w *multipart.Writer
}

// NewForm returns a form writing to w with a time-derived boundary.
func NewForm(w io.Writer) *Form {
	mw := multipart.NewWriter(w)
	// never fails: the boundary is short and only uses allowed characters
	_ = mw.SetBoundary("remotesql-" + strconv.FormatInt(time.Now().UnixNano(), 36))
	return &Form{w: mw}
}

// ContentType returns the Content-Type header value including the boundary.
func (f *Form) ContentType() string {
	return f.w.FormDataContentType()
}

// Boundary returns the part separator.
func (f *Form) Boundary() string {
	return f.w.Boundary()
}

// WriteField writes a plain form field.
func (f *Form) WriteField(name, value string) error {
	return f.w.WriteField(name, value)
}

// CopyFilePart writes a file part named field and streams src into it with copier.
// A nil copier copies with io.Copy.
func (f *Form) CopyFilePart(field, fileName string, src io.Reader, copier Copier) (int64, error) {
	part, err := f.w.CreateFormFile(field, fileName)
	if err != nil {
		return 0, fmt.Errorf("create file part: %w", err)
	}
	if copier == nil {
		copier = io.Copy
	}
	return copier(part, src)
}

// Close writes the closing boundary.
func (f *Form) Close() error {
	return f.w.Close()
}
