// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
)

// OpenAIProviderConfig configures the OpenAI-backed provider.
//
// # Fields
//
//   - APIKey: Falls back to OPENAI_API_KEY, then the container secret at
//     /run/secrets/openai_api_key.
//   - Model: Falls back to OPENAI_MODEL, then "gpt-4o-mini".
//   - RequestsPerMinute: Client-side rate limit. Default: 60.
type OpenAIProviderConfig struct {
	APIKey            string
	Model             string
	RequestsPerMinute int
}

// OpenAIProvider analyzes cases through the OpenAI chat completions API.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAIProvider creates the OpenAI provider.
func NewOpenAIProvider(config OpenAIProviderConfig) (*OpenAIProvider, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OpenAI API key not configured and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OpenAI API key not configured")
		}
	}

	model := config.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}

	rpm := config.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	slog.Info("Initializing OpenAI analysis provider", "model", model, "requests_per_minute", rpm)
	return &OpenAIProvider{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}, nil
}

// Name implements the Provider interface.
func (o *OpenAIProvider) Name() string { return "openai" }

// Analyze implements the Provider interface.
func (o *OpenAIProvider) Analyze(ctx context.Context, input datatypes.CaseInput) ([]PatternMatch, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	slog.Debug("Analyzing case via OpenAI", "model", o.model, "case_id", input.CaseID)
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildAnalysisPrompt(input)},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	patterns, err := parsePatternResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	slog.Debug("Received OpenAI analysis", "case_id", input.CaseID, "patterns", len(patterns))
	return patterns, nil
}
