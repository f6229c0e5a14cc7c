package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openberth/openberth/pkg/config"
	"github.com/openberth/openberth/pkg/registry"
	"github.com/openberth/openberth/pkg/remote"
	sshx "github.com/openberth/openberth/pkg/remote/ssh"
	"github.com/openberth/openberth/pkg/scan"
	"github.com/openberth/openberth/pkg/telemetry"
)

// session bundles the objects every remote command needs: the loaded
// config, the SSH connection, and the metrics registry flushed on
// close.
type session struct {
	cfg     *config.Config
	client  *sshx.Client
	metrics *telemetry.Metrics

	command string
	started time.Time
}

// newSession loads the config, connects to the selected host, and
// prepares metrics. Callers must Close.
func newSession(command string) (*session, error) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	hostCfg, err := cfg.HostConfig(hostName)
	if err != nil {
		return nil, err
	}

	client, err := sshx.Dial(hostCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", hostCfg.Address(), err)
	}

	return &session{
		cfg:     cfg,
		client:  client,
		metrics: telemetry.NewMetrics(),
		command: command,
		started: time.Now(),
	}, nil
}

// Close tears down the connection and flushes metrics to the textfile
// location when one is configured.
func (s *session) Close() {
	s.metrics.ObserveCommandDuration(s.command, time.Since(s.started).Seconds())
	if path := s.cfg.Paths.MetricsTextfile; path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to write metrics textfile")
		}
	}
	if err := s.client.Close(); err != nil {
		log.Debug().Err(err).Msg("error closing connection")
	}
}

// executor exposes the connection under the transport contract.
func (s *session) executor() remote.Executor {
	return s.client
}

// registryStore builds the registry store bound to the configured path.
func (s *session) registryStore() *registry.Store {
	return registry.NewStore(s.client, s.cfg.Paths.Registry)
}

// scanner builds the host scanner.
func (s *session) scanner() *scan.Scanner {
	return scan.NewScanner(s.client, s.metrics)
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
