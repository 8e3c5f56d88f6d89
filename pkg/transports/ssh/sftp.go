package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
)

// sftpClient opens an SFTP session on the current connection.
func (c *Client) sftpClient() (*sftp.Client, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp",
			Err:         fmt.Errorf("failed to start sftp subsystem: %w", err),
			IsTemporary: true,
		}
	}
	return client, nil
}

// UploadFile copies one local file to the remote host, creating parent
// directories as needed. A zero mode keeps the server default.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	defer client.Close()

	return c.uploadFile(ctx, client, localPath, remotePath, mode)
}

func (c *Client) uploadFile(ctx context.Context, client *sftp.Client, localPath, remotePath string, mode os.FileMode) error {
	start := time.Now()

	local, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer local.Close()

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote directory: %w", err),
			IsTemporary: true,
		}
	}

	remote, err := client.Create(remotePath)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remote.Close()

	written, err := copyWithContext(ctx, remote, local)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
		}
	}

	if mode != 0 {
		if err := client.Chmod(remotePath, mode); err != nil {
			c.logger.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file mode")
		}
	}

	c.logger.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", written).
		Dur("duration", time.Since(start)).
		Msg("file uploaded")

	return nil
}

// UploadDir recursively copies a local directory, typically a rendered
// build context, to the remote host. File modes are preserved so the
// entrypoint script stays executable.
func (c *Client) UploadDir(ctx context.Context, localDir, remoteDir string) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	defer client.Close()

	c.logger.Debug().Str("local", localDir).Str("remote", remoteDir).Msg("uploading directory")

	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		target := path.Join(remoteDir, filepath.ToSlash(rel))

		if info.IsDir() {
			if err := client.MkdirAll(target); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			return nil
		}
		if err := c.uploadFile(ctx, client, p, target, info.Mode().Perm()); err != nil {
			return fmt.Errorf("failed to upload %s: %w", p, err)
		}
		return nil
	})
}

// copyWithContext copies src to dst, checking for cancellation between
// chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

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
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
