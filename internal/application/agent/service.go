// Package agent wires the PPO engine to its stores for callers and the
// CLI.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	domainPolicy "github.com/xxzhixng/Carla-ppo/internal/domain/policy"
	infraPolicy "github.com/xxzhixng/Carla-ppo/internal/infrastructure/policy"
)

// Service owns one engine instance and exposes the operations the
// outer loop and CLI need. Like the engine itself, a Service is not
// safe for concurrent use.
type Service struct {
	engine *infraPolicy.Engine
	log    zerolog.Logger
}

// NewService constructs the engine from the given configuration.
func NewService(cfg domainPolicy.EngineConfig, logger zerolog.Logger) (*Service, error) {
	engine, err := infraPolicy.NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Service{engine: engine, log: logger}, nil
}

// LoadConfig reads an engine configuration from a JSON file, applied on
// top of the defaults. An empty path returns the defaults unchanged.
func LoadConfig(path string) (domainPolicy.EngineConfig, error) {
	cfg := domainPolicy.DefaultEngineConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Engine returns the owned engine.
func (s *Service) Engine() *infraPolicy.Engine {
	return s.engine
}

// Resume restores the latest checkpoint if one exists. A missing
// checkpoint is a normal first-run condition; a corrupt one is
// reported with its cause so the caller can decide whether to proceed
// with fresh parameters.
func (s *Service) Resume() (domainPolicy.RestoreStatus, error) {
	status, err := s.engine.LoadLatestCheckpoint()
	switch status {
	case domainPolicy.Restored:
		s.log.Info().Int64("episode", s.engine.EpisodeIdx()).Msg("resumed from checkpoint")
	case domainPolicy.RestoreNotFound:
		s.log.Info().Msg("no checkpoint found, starting fresh")
	case domainPolicy.RestoreCorrupt:
		s.log.Error().Err(err).Msg("latest checkpoint is corrupt")
	}
	return status, err
}

// Status is a point-in-time view of the agent's persisted state.
type Status struct {
	Stats          domainPolicy.EngineStats `json:"stats"`
	NumSubPolicies int                      `json:"numSubPolicies"`
	CheckpointDir  string                   `json:"checkpointDir"`
	LogDir         string                   `json:"logDir"`
	SummaryRecords int64                    `json:"summaryRecords"`
}

// Status reports counters, sub-policy count and summary log size.
func (s *Service) Status(ctx context.Context) (Status, error) {
	count, err := s.engine.Summaries().Count(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Stats:          s.engine.Stats(),
		NumSubPolicies: s.engine.NumSubPolicies(),
		CheckpointDir:  s.engine.CheckpointDir(),
		LogDir:         s.engine.LogDir(),
		SummaryRecords: count,
	}, nil
}

// Close releases the engine's resources.
func (s *Service) Close() error {
	return s.engine.Close()
}
