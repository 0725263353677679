// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package blob moves large objects to and from the server.
//
// Uploads stream a multipart body through a pipe, so memory use does not depend on
// the object size; downloads either return the live response stream or buffer it
// under a fixed ceiling.
package blob

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"remotesql/cli/internal/envelope"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/metrics"
	"remotesql/cli/internal/transport"
)

// DefaultMaxInMemory bounds DownloadBytes unless configured otherwise.
const DefaultMaxInMemory = 16 << 20

// Form field names of the upload body.
const (
	FieldBlobID = "blob_id"
	FieldFile   = "file"
)

// Mover transfers blobs of one connection. baseURL is the connection base URL.
type Mover interface {
	Upload(ctx context.Context, baseURL, blobID string, src io.Reader, total int64, sink ProgressSink, cancel CancelToken) error
	DownloadStream(ctx context.Context, baseURL, blobID string) (io.ReadCloser, error)
	DownloadBytes(ctx context.Context, baseURL, blobID string) ([]byte, error)
}

// Transport is the multipart Mover.
type Transport struct {
	t           *transport.Transport
	l           *zap.Logger
	m           *metrics.Collector
	maxInMemory int64
}

// NewTransport returns a Mover over t. maxInMemory <= 0 selects DefaultMaxInMemory.
func NewTransport(t *transport.Transport, l *zap.Logger, m *metrics.Collector, maxInMemory int64) *Transport {
	if l == nil {
		l = zap.NewNop()
	}
	if maxInMemory <= 0 {
		maxInMemory = DefaultMaxInMemory
	}

	return &Transport{
		t:           t,
		l:           l.Named("blob"),
		m:           m,
		maxInMemory: maxInMemory,
	}
}

// MaxInMemory returns the DownloadBytes ceiling.
func (b *Transport) MaxInMemory() int64 {
	return b.maxInMemory
}

// Upload streams src as blob blobID. When total > 0 and both sink and cancel are
// given, progress is reported and cancel is checked after every chunk; a cancelled
// upload returns a cancelled record and the server response is not interpreted.
// sink receives 100 only once the server confirmed the upload.
func (b *Transport) Upload(ctx context.Context, baseURL, blobID string, src io.Reader, total int64, sink ProgressSink, cancel CancelToken) error {
	if blobID == "" {
		return rerrors.Precondition("blob id is required")
	}
	if src == nil {
		return rerrors.Precondition("blob source is required")
	}
	u := baseURL + "blob_upload"
	if err := transport.CheckURL(u); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	form := NewForm(pw)
	copier := copierFor(total, sink, cancel)

	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)

	go func() {
		var n int64
		err := form.WriteField(FieldBlobID, blobID)
		if err == nil {
			n, err = form.CopyFilePart(FieldFile, blobID, src, copier)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
		done <- result{n: n, err: err}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		pr.Close()
		<-done
		return rerrors.Precondition("invalid request: %v", err)
	}
	req.Header.Set("Content-Type", form.ContentType())

	resp, doErr := b.t.Do(req)

	// unblock the writer if the request ended before the body was consumed
	pr.CloseWithError(io.ErrClosedPipe)
	w := <-done

	if ctx.Err() != nil || (cancel != nil && cancel.Cancelled()) {
		if resp != nil {
			resp.Body.Close()
		}
		b.l.Debug("Upload cancelled", zap.String("blob_id", blobID), zap.Int64("sent", w.n))
		if rerrors.IsKind(w.err, rerrors.Cancelled) {
			return w.err
		}
		return rerrors.New(rerrors.Cancelled, "blob transfer cancelled")
	}

	if w.err != nil && !errors.Is(w.err, io.ErrClosedPipe) {
		if resp != nil {
			resp.Body.Close()
		}
		if rerrors.IsKind(w.err, rerrors.Cancelled) {
			b.l.Debug("Upload cancelled", zap.String("blob_id", blobID), zap.Int64("sent", w.n))
			return w.err
		}
		return rerrors.Wrap(rerrors.IOFailure, "read blob source: "+w.err.Error(), w.err)
	}
	if doErr != nil {
		return doErr
	}

	text, err := transport.ReadText(resp)
	if err != nil {
		return err
	}
	if e := envelope.New(text.Body, text.StatusCode, text.Status).Err(); e != nil {
		return e
	}

	b.m.AddBlobBytes("upload", w.n)
	if total > 0 && sink != nil {
		sink.Report(100)
	}
	b.l.Debug("Blob uploaded", zap.String("blob_id", blobID), zap.Int64("bytes", w.n))
	return nil
}

// DownloadStream returns the live content of blob blobID. The caller must close it.
func (b *Transport) DownloadStream(ctx context.Context, baseURL, blobID string) (io.ReadCloser, error) {
	if blobID == "" {
		return nil, rerrors.Precondition("blob id is required")
	}

	var p transport.Params
	p.Set(FieldBlobID, blobID)

	resp, err := b.t.Post(ctx, baseURL+"blob_download", p)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		text, err := transport.ReadText(resp)
		if err != nil {
			return nil, err
		}
		if e := envelope.New(text.Body, text.StatusCode, text.Status).Err(); e != nil {
			return nil, e
		}
		return nil, rerrors.HTTP(text.StatusCode, text.Status)
	}

	return &countingReader{ReadCloser: resp.Body, m: b.m}, nil
}

// DownloadBytes returns the content of blob blobID. It fails with an I/O error
// naming the ceiling as soon as more than MaxInMemory bytes arrive.
func (b *Transport) DownloadBytes(ctx context.Context, baseURL, blobID string) ([]byte, error) {
	rc, err := b.DownloadStream(ctx, baseURL, blobID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, b.maxInMemory+1))
	if err != nil {
		return nil, rerrors.Transport(err, http.StatusOK, "OK")
	}
	if int64(len(data)) > b.maxInMemory {
		return nil, rerrors.Newf(rerrors.IOFailure, "blob %s exceeds the in-memory limit of %d bytes", blobID, b.maxInMemory)
	}
	return data, nil
}

// countingReader records downloaded bytes when closed.
type countingReader struct {
	io.ReadCloser
	m *metrics.Collector
	n int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *countingReader) Close() error {
	r.m.AddBlobBytes("download", r.n)
	r.n = 0
	return r.ReadCloser.Close()
}

// check interfaces
var (
	_ Mover = (*Transport)(nil)
)
