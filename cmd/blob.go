// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"remotesql/cli/internal/blob"
	"remotesql/cli/internal/command"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/httperrors"
)

var (
	blobUploadID   string
	blobDownloadTo string
)

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Upload and download blobs",
}

// blobUploadCmd streams a file to the server.
var blobUploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a file as a blob",
	Long: `The upload command streams FILE to the server as a blob and prints its id.
Without --id a random id is generated. Press Ctrl-C to cancel the transfer.`,
	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		fi, err := f.Stat()
		if err != nil {
			return err
		}

		id := blobUploadID
		if id == "" {
			id = uuid.NewString() + filepath.Ext(args[0])
		}

		c, _, err := a.connect(ctx, true)
		if err != nil {
			return httperrors.Show(err, "connecting", a.cfg.Server)
		}
		d := a.dispatcher(c, command.Options{})
		defer release(ctx, d)

		bar := startProgressBar("Uploading " + filepath.Base(args[0]))
		err = d.BlobUpload(ctx, id, f, fi.Size(), bar.sink(), blob.ContextToken(ctx))
		bar.Stop()
		if err != nil {
			return httperrors.Show(err, "uploading", a.cfg.Server)
		}

		pterm.Success.Printf("Uploaded %s (%d bytes)\n", id, fi.Size())
		return nil
	},
}

// blobDownloadCmd streams a blob to a file or stdout.
var blobDownloadCmd = &cobra.Command{
	Use:   "download ID",
	Short: "Download a blob",
	Long: `The download command streams blob ID to the file given with -o, or to stdout.
Press Ctrl-C to cancel the transfer.`,
	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current

		c, _, err := a.connect(ctx, true)
		if err != nil {
			return httperrors.Show(err, "connecting", a.cfg.Server)
		}
		d := a.dispatcher(c, command.Options{})
		defer release(ctx, d)

		var bar *progressBar
		var total int64
		if blobDownloadTo != "" {
			if total, err = d.BlobLength(ctx, args[0]); err != nil {
				return httperrors.Show(err, "looking up the blob", a.cfg.Server)
			}
			bar = startProgressBar("Downloading " + args[0])
		}

		rc, err := d.BlobDownload(ctx, args[0])
		if err != nil {
			bar.Stop()
			return httperrors.Show(err, "downloading", a.cfg.Server)
		}
		defer rc.Close()

		var w io.Writer = os.Stdout
		if blobDownloadTo != "" {
			f, err := os.Create(blobDownloadTo)
			if err != nil {
				bar.Stop()
				return err
			}
			defer f.Close()
			w = f
		}

		n, err := io.Copy(w, &progressReader{r: rc, total: total, sink: bar.sink()})
		bar.Stop()
		if err != nil {
			if ctx.Err() != nil {
				err = rerrors.New(rerrors.Cancelled, "download cancelled")
			}
			return httperrors.Show(err, "downloading", a.cfg.Server)
		}

		if blobDownloadTo != "" {
			pterm.Success.Printf("Downloaded %s to %s (%d bytes)\n", args[0], blobDownloadTo, n)
		}
		return nil
	},
}

// progressReader reports the share of total read so far.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	sink  blob.ProgressSink
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.sink != nil && p.total > 0 {
		p.sink.Report(int(p.read * 100 / p.total))
	}
	return n, err
}

func init() {
	blobUploadCmd.Flags().StringVar(&blobUploadID, "id", "", "blob id; generated when empty")
	blobDownloadCmd.Flags().StringVarP(&blobDownloadTo, "output", "o", "", "write to this file instead of stdout")
	blobCmd.AddCommand(blobUploadCmd, blobDownloadCmd)
	rootCmd.AddCommand(blobCmd)
}
