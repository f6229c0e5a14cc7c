package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openberth/openberth/pkg/remote"
)

// Execute runs a command on the remote host as the connecting user.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	return c.run(ctx, "", command)
}

// ExecuteAs runs a command as another principal via sudo -u. The shared
// database and service accounts on a managed host are reached this way.
func (c *Client) ExecuteAs(ctx context.Context, principal, command string) (string, error) {
	return c.run(ctx, principal, command)
}

func (c *Client) run(ctx context.Context, principal, command string) (string, error) {
	startTime := time.Now()

	log.Debug().
		Str("host", c.config.Host).
		Str("principal", principal).
		Str("command", command).
		Msg("executing command")

	sshClient, err := c.getClient()
	if err != nil {
		return "", err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return "", &remote.Error{
			Op:          "execute",
			Host:        c.config.Host,
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	finalCmd := command
	if principal != "" && principal != c.config.User {
		// The command is passed through sh -c so pipelines and redirects
		// survive the sudo boundary intact.
		finalCmd = fmt.Sprintf("sudo -n -u %s sh -c %s", principal, shellquote.Join(command))
	}

	// Every round trip gets the configured command timeout unless the
	// caller's context is tighter.
	runCtx := ctx
	if c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(finalCmd)
	}()

	var execErr error
	select {
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = runCtx.Err()
	case execErr = <-doneChan:
	}

	duration := time.Since(startTime)
	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	log.Debug().
		Str("command", command).
		Int("stdout_len", len(stdout)).
		Int("stderr_len", len(stderr)).
		Dur("duration", duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			return stdout, &remote.Error{
				Op:       "execute",
				Host:     c.config.Host,
				Err:      fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
				ExitCode: exitErr.ExitStatus(),
				Stderr:   stderr,
			}
		}
		return stdout, &remote.Error{
			Op:          "execute",
			Host:        c.config.Host,
			Err:         execErr,
			IsTemporary: true,
			Stderr:      stderr,
		}
	}

	return stdout, nil
}
