package ssh

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openberth/openberth/pkg/remote"
)

// Client implements remote.Executor over a single SSH connection.
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	isConnected bool
	connectedAt time.Time
}

// Dial creates a client and establishes the connection.
func Dial(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{config: config}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Host returns the host name this executor is bound to.
func (c *Client) Host() string {
	return c.config.Host
}

func (c *Client) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		if err := c.healthCheckLocked(); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
	}

	clientConfig, err := c.config.BuildClientConfig()
	if err != nil {
		return &remote.Error{
			Op:          "connect",
			Host:        c.config.Host,
			Err:         err,
			IsAuthError: true,
		}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	client, err := ssh.Dial("tcp", address, clientConfig)
	if err != nil {
		return &remote.Error{
			Op:          "connect",
			Host:        c.config.Host,
			Err:         err,
			IsTemporary: true,
		}
	}

	c.client = client
	c.isConnected = true
	c.connectedAt = time.Now()

	log.Info().Str("address", address).Msg("SSH connection established")
	return nil
}

// Close closes the SSH connection and releases all resources.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	err := c.client.Close()
	c.client = nil
	c.isConnected = false

	if err != nil {
		return &remote.Error{Op: "disconnect", Host: c.config.Host, Err: err}
	}
	return nil
}

// healthCheckLocked verifies the connection with a trivial command.
// Caller must hold connMu.
func (c *Client) healthCheckLocked() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &remote.Error{
			Op:          "healthcheck",
			Host:        c.config.Host,
			Err:         err,
			IsTemporary: true,
		}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &remote.Error{
			Op:          "healthcheck",
			Host:        c.config.Host,
			Err:         err,
			IsTemporary: true,
		}
	}
	return nil
}

// getClient returns the underlying SSH client for executor and file
// transfer use.
func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, &remote.Error{
			Op:   "get-client",
			Host: c.config.Host,
			Err:  fmt.Errorf("not connected"),
		}
	}
	return c.client, nil
}
