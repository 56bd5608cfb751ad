// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIBackend.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint. For Azure this is the resource
	// endpoint, e.g. https://my-resource.openai.azure.com.
	BaseURL string
	// Model is the embedding model, or the deployment name on Azure.
	// Default: text-embedding-ada-002.
	Model string
	// Azure selects the Azure OpenAI request format.
	Azure bool
	// APIVersion is the Azure API version. Default: 2023-05-15.
	APIVersion string
}

// OpenAIBackend embeds text with the OpenAI (or Azure OpenAI) embeddings API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates an OpenAIBackend.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key not set")
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.AdaEmbeddingV2)
		slog.Warn("Embedding model not set, defaulting", "model", model)
	}

	var clientCfg openai.ClientConfig
	if cfg.Azure {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("azure embedding endpoint not set")
		}
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, strings.TrimSuffix(cfg.BaseURL, "/"))
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
		deployment := model
		clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
		}
	}

	slog.Info("Initializing OpenAI embedding backend", "model", model, "azure", cfg.Azure)
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Model implements Backend.
func (o *OpenAIBackend) Model() string { return o.model }

// Embed implements Backend.
func (o *OpenAIBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

var _ Backend = (*OpenAIBackend)(nil)
