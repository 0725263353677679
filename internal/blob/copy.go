// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package blob

import (
	"io"

	rerrors "remotesql/cli/internal/errors"
)

// chunkSize is the copy buffer size; cancellation is checked once per chunk.
const chunkSize = 32 << 10

// copierFor returns the copier for a transfer. Progress and cancellation are only
// instrumented when the total length is known and both sink and token are given.
func copierFor(total int64, sink ProgressSink, cancel CancelToken) Copier {
	if total <= 0 || sink == nil || cancel == nil {
		return io.Copy
	}

	return func(dst io.Writer, src io.Reader) (int64, error) {
		return instrumentedCopy(dst, src, total, sink, cancel)
	}
}

// instrumentedCopy copies src to dst reporting progress about once per percent,
// capped at 99 until the server confirms the transfer, and stops with a
// cancelled record as soon as cancel is set after a chunk.
func instrumentedCopy(dst io.Writer, src io.Reader, total int64, sink ProgressSink, cancel CancelToken) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	reported := -1

	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}

			if p := min(int(written*100/total), 99); p != reported {
				reported = p
				sink.Report(p)
			}

			if cancel.Cancelled() {
				return written, rerrors.New(rerrors.Cancelled, "blob transfer cancelled")
			}
		}

		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
