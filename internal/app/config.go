package app

import (
	"errors"

	"github.com/vk/phasegrid/internal/manifest"
)

// Command selects what the binary does.
type Command string

const (
	CommandRun    Command = "run"
	CommandStatus Command = "status"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command Command
	Run     manifest.Options

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.Command == "" {
		cfg.Command = CommandRun
	}
	if cfg.Run.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if cfg.Command == CommandStatus {
		return &cfg, nil
	}

	switch {
	case cfg.Run.InputDir == "":
		return nil, errors.New("input directory is required")
	case cfg.Run.MapDir == "":
		return nil, errors.New("genetic map directory is required")
	case cfg.Run.PedigreePath == "":
		return nil, errors.New("pedigree file is required")
	case cfg.Run.Concurrency < 1:
		return nil, errors.New("concurrency must be at least 1")
	case cfg.Run.Threads < 1:
		return nil, errors.New("threads must be at least 1")
	case cfg.Run.MaxRetries < 0:
		return nil, errors.New("retries must not be negative")
	case len(cfg.Run.Chromosomes) == 0:
		return nil, errors.New("at least one chromosome must be selected")
	}
	return &cfg, nil
}
