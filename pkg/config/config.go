// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads runtime configuration for a quantum process: AST
// cache sizing, job worker pool sizing, LLM/broker/vector-store provider
// endpoints, and the durable job store DSN. It layers an optional YAML
// file under environment-variable overrides, then validates the merged
// struct at load time rather than on first use.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the merged runtime configuration for a quantum process.
type Config struct {
	// CacheSize bounds the AST cache's LRU capacity.
	CacheSize int `yaml:"cache_size" validate:"required,gt=0"`
	// JobWorkers bounds the thread pool and per-queue durable-job workers.
	JobWorkers int `yaml:"job_workers" validate:"required,gt=0"`
	// JobStoreDSN is the database/sql DSN for the durable job queue's SQLite store.
	JobStoreDSN string `yaml:"job_store_dsn" validate:"required"`
	// LLM is the default LLM provider binding used when a q:llm tag omits one.
	LLM LLMConfig `yaml:"llm" validate:"omitempty"`
	// Broker selects which broker adapter cmd/quantum wires in.
	Broker BrokerConfig `yaml:"broker" validate:"omitempty"`
	// ExprCacheSize bounds the expression engine's compiled-expression LRU.
	ExprCacheSize int `yaml:"expr_cache_size" validate:"required,gt=0"`
}

// LLMConfig is the default multi-provider LLM binding.
type LLMConfig struct {
	Provider string `yaml:"provider" validate:"omitempty,oneof=local-oss openai openai-compatible anthropic"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// BrokerConfig selects and configures the broker adapter.
type BrokerConfig struct {
	Adapter string `yaml:"adapter" validate:"omitempty,oneof=memory nats"`
	NatsURL string `yaml:"nats_url" validate:"omitempty"`
}

// Default returns the baseline configuration used when no file or env
// overrides are present.
func Default() Config {
	return Config{
		CacheSize:     512,
		JobWorkers:    8,
		JobStoreDSN:   "quantum_jobs.db",
		ExprCacheSize: 1000,
		Broker:        BrokerConfig{Adapter: "memory"},
	}
}

// Load reads path (if non-empty and the file exists) as YAML into a
// Config seeded from Default, applies environment-variable overrides,
// then validates the result. A missing path is not an error — env vars
// and defaults alone are a valid configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUANTUM_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheSize = n
		}
	}
	if v := os.Getenv("QUANTUM_JOB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobWorkers = n
		}
	}
	if v := os.Getenv("QUANTUM_JOB_STORE_DSN"); v != "" {
		cfg.JobStoreDSN = v
	}
	if v := os.Getenv("QUANTUM_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("QUANTUM_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("QUANTUM_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("QUANTUM_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("QUANTUM_BROKER_ADAPTER"); v != "" {
		cfg.Broker.Adapter = v
	}
	if v := os.Getenv("QUANTUM_NATS_URL"); v != "" {
		cfg.Broker.NatsURL = v
	}
}
