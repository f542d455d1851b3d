// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the dashboard service configuration
// from YAML, with hot reload of the runtime tunables.
package config

import "time"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" validate:"required"`
	Providers ProvidersConfig `yaml:"providers" validate:"required"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Retention RetentionConfig `yaml:"retention"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Registry  RegistryConfig  `yaml:"registry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"required"`
}

// ProvidersConfig configures the analysis providers and cascade.
type ProvidersConfig struct {
	// Primary names the primary provider. Must appear in Order.
	Primary string `yaml:"primary" validate:"required,oneof=openai ollama heuristic"`

	// Order is the fallback cascade order.
	Order []string `yaml:"order" validate:"required,min=1,dive,oneof=openai ollama heuristic"`

	// CallTimeout is the per-attempt deadline.
	CallTimeout time.Duration `yaml:"call_timeout" validate:"min=0"`

	OpenAI OpenAIConfig `yaml:"openai"`
	Ollama OllamaConfig `yaml:"ollama"`
}

// OpenAIConfig configures the OpenAI provider. The API key itself comes
// from the environment or a container secret, never from this file.
type OpenAIConfig struct {
	Model             string `yaml:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" validate:"min=0"`
}

// OllamaConfig configures the local Ollama provider.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// PipelineConfig holds the hot-reloadable pipeline tunables.
type PipelineConfig struct {
	CheckpointAccepted     int           `yaml:"checkpoint_accepted" validate:"min=0,max=100"`
	CheckpointAnalysis     int           `yaml:"checkpoint_analysis" validate:"min=0,max=100"`
	CheckpointSimilarity   int           `yaml:"checkpoint_similarity" validate:"min=0,max=100"`
	CheckpointConsultation int           `yaml:"checkpoint_consultation" validate:"min=0,max=100"`
	PatternThreshold       int           `yaml:"pattern_threshold" validate:"min=0"`
	SimilarityThreshold    int           `yaml:"similarity_threshold" validate:"min=0"`
	RareDiseaseConfidence  float64       `yaml:"rare_disease_confidence" validate:"min=0,max=1"`
	ConsultationRate       float64       `yaml:"consultation_rate" validate:"min=0,max=1"`
	EstimateHorizon        time.Duration `yaml:"estimate_horizon" validate:"min=0"`
	StageDelay             time.Duration `yaml:"stage_delay" validate:"min=0"`
}

// RetentionConfig holds the hot-reloadable retention windows.
type RetentionConfig struct {
	InsightTTL      time.Duration `yaml:"insight_ttl" validate:"min=0"`
	NotificationTTL time.Duration `yaml:"notification_ttl" validate:"min=0"`
	CaseStatusTTL   time.Duration `yaml:"case_status_ttl" validate:"min=0"`
	SweepInterval   time.Duration `yaml:"sweep_interval" validate:"min=0"`
}

// MetricsConfig configures the aggregator and its collaborators.
type MetricsConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"min=0"`
	QueryTimeout    time.Duration `yaml:"query_timeout" validate:"min=0"`
	JobQueueURL     string        `yaml:"job_queue_url"`
	NetworkRPCURL   string        `yaml:"network_rpc_url"`
}

// RegistryConfig configures the embedded case record registry.
type RegistryConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LoggingConfig configures the layered logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	LogDir string `yaml:"log_dir"`
	JSON   bool   `yaml:"json"`
}

// Default returns the production default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8099",
		},
		Providers: ProvidersConfig{
			Primary:     "openai",
			Order:       []string{"openai", "ollama", "heuristic"},
			CallTimeout: 30 * time.Second,
			OpenAI: OpenAIConfig{
				Model:             "gpt-4o-mini",
				RequestsPerMinute: 60,
			},
			Ollama: OllamaConfig{
				BaseURL: "http://localhost:11434",
				Model:   "llama3.1",
			},
		},
		Pipeline: PipelineConfig{
			CheckpointAccepted:     10,
			CheckpointAnalysis:     30,
			CheckpointSimilarity:   60,
			CheckpointConsultation: 90,
			PatternThreshold:       2,
			SimilarityThreshold:    5,
			RareDiseaseConfidence:  0.92,
			ConsultationRate:       0.30,
			EstimateHorizon:        30 * time.Minute,
			StageDelay:             500 * time.Millisecond,
		},
		Retention: RetentionConfig{
			InsightTTL:      24 * time.Hour,
			NotificationTTL: 7 * 24 * time.Hour,
			CaseStatusTTL:   1 * time.Hour,
			SweepInterval:   1 * time.Hour,
		},
		Metrics: MetricsConfig{
			RefreshInterval: 30 * time.Second,
			QueryTimeout:    10 * time.Second,
		},
		Registry: RegistryConfig{
			Path: "data/records",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}
