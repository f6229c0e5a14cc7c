package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/remote"
)

// PushFile writes content to a remote path via SFTP, creating parent
// directories as needed.
func (c *Client) PushFile(ctx context.Context, content []byte, remotePath string, mode uint32) error {
	sshClient, err := c.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return &remote.Error{
			Op:          "push",
			Host:        c.config.Host,
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &remote.Error{
				Op:   "push",
				Host: c.config.Host,
				Err:  fmt.Errorf("failed to create directory %s: %w", dir, err),
			}
		}
	}

	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return &remote.Error{
			Op:   "push",
			Host: c.config.Host,
			Err:  fmt.Errorf("failed to create %s: %w", remotePath, err),
		}
	}

	if _, err := io.Copy(f, bytes.NewReader(content)); err != nil {
		_ = f.Close()
		return &remote.Error{
			Op:          "push",
			Host:        c.config.Host,
			Err:         fmt.Errorf("failed to write %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}
	if err := f.Close(); err != nil {
		return &remote.Error{Op: "push", Host: c.config.Host, Err: err}
	}

	if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
		return &remote.Error{
			Op:   "push",
			Host: c.config.Host,
			Err:  fmt.Errorf("failed to chmod %s: %w", remotePath, err),
		}
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("path", remotePath).
		Int("bytes", len(content)).
		Msg("pushed file")

	return nil
}

// FetchFile reads a remote file in full via SFTP.
func (c *Client) FetchFile(ctx context.Context, remotePath string) ([]byte, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &remote.Error{
			Op:          "fetch",
			Host:        c.config.Host,
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	f, err := sftpClient.Open(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &remote.Error{
				Op:         "fetch",
				Host:       c.config.Host,
				Err:        fmt.Errorf("%s: %w", remotePath, err),
				IsNotFound: true,
			}
		}
		return nil, &remote.Error{
			Op:   "fetch",
			Host: c.config.Host,
			Err:  fmt.Errorf("failed to open %s: %w", remotePath, err),
		}
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, &remote.Error{
			Op:          "fetch",
			Host:        c.config.Host,
			Err:         fmt.Errorf("failed to read %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}

	return content, nil
}
