// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the insights service configuration: defaults,
// then an optional YAML file, then environment overrides. Environment
// always wins so container deployments never need a file.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MongoConfig describes the transaction store connection.
type MongoConfig struct {
	URI      string `yaml:"uri" validate:"required"`
	Database string `yaml:"database" validate:"required"`
}

// LLMConfig controls provider management.
type LLMConfig struct {
	// RequireProvider makes startup fail when no provider has
	// credentials. Off by default: the service degrades to template
	// pipelines and deterministic responses without any provider.
	RequireProvider bool `yaml:"require_provider"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// OtelConfig controls trace export.
type OtelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Config is the full service configuration.
type Config struct {
	Port  string      `yaml:"port" validate:"required,numeric"`
	Mongo MongoConfig `yaml:"mongo"`
	LLM   LLMConfig   `yaml:"llm"`
	Log   LogConfig   `yaml:"log"`
	Otel  OtelConfig  `yaml:"otel"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port: "12400",
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "pluto_money",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
		Otel: OtelConfig{
			Endpoint: "localhost:4317",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment overrides, then validates it. An empty path skips
// the file step; a missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FINSIGHT_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGODB_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Otel.Endpoint = v
		cfg.Otel.Enabled = true
	}
	if v := os.Getenv("LLM_REQUIRE_PROVIDER"); v == "true" || v == "1" {
		cfg.LLM.RequireProvider = true
	}
}
