// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package command

import (
	"context"
	"io"
	"strconv"

	"remotesql/cli/internal/blob"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/session"
	"remotesql/cli/internal/transport"
)

// Blob actions.
const (
	ActionBlobUpload    = "blob_upload"
	ActionBlobDownload  = "blob_download"
	ActionGetBlobLength = "get_blob_length"
)

// BlobUpload streams src to the server as blob id.
// See blob.Transport.Upload for progress and cancellation.
func (d *Dispatcher) BlobUpload(ctx context.Context, id string, src io.Reader, total int64, sink blob.ProgressSink, cancel blob.CancelToken) error {
	return d.run(ctx, ActionBlobUpload, func(ctx context.Context) error {
		if d.conn.State() != session.Active {
			return rerrors.Precondition("connection is %s", d.conn.State())
		}
		return d.deps.Blobs.Upload(ctx, d.conn.BaseURL, id, src, total, sink, cancel)
	})
}

// BlobDownload returns the content of blob id as a stream. The caller must close it.
func (d *Dispatcher) BlobDownload(ctx context.Context, id string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := d.run(ctx, ActionBlobDownload, func(ctx context.Context) error {
		if d.conn.State() != session.Active {
			return rerrors.Precondition("connection is %s", d.conn.State())
		}

		var err error
		rc, err = d.deps.Blobs.DownloadStream(ctx, d.conn.BaseURL, id)
		return err
	})
	return rc, err
}

// BlobBytes returns the content of blob id, bounded by the in-memory download limit.
func (d *Dispatcher) BlobBytes(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := d.run(ctx, ActionBlobDownload, func(ctx context.Context) error {
		if d.conn.State() != session.Active {
			return rerrors.Precondition("connection is %s", d.conn.State())
		}

		var err error
		data, err = d.deps.Blobs.DownloadBytes(ctx, d.conn.BaseURL, id)
		return err
	})
	return data, err
}

// BlobLength returns the size of blob id in bytes.
func (d *Dispatcher) BlobLength(ctx context.Context, id string) (int64, error) {
	if id == "" {
		return 0, rerrors.Precondition("blob id is required")
	}

	var p transport.Params
	p.Set(blob.FieldBlobID, id)

	var n int64
	err := d.scalar(ctx, ActionGetBlobLength, "", p, func(res string) error {
		var err error
		if n, err = strconv.ParseInt(res, 10, 64); err != nil {
			return contract(ActionGetBlobLength, "invalid blob length %q", res)
		}
		return nil
	})
	return n, err
}
