// Package embedding generates vector embeddings for semantic product
// search.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"cravehy/internal/logging"
	"cravehy/internal/types"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a search query. Retrieval
	// models pair RETRIEVAL_QUERY vectors against RETRIEVAL_DOCUMENT
	// vectors.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`      // Default: "gemini-embedding-001"
	Dimensions int    `json:"dimensions"` // Default: 768
	TaskType   string `json:"task_type"`  // Default: "RETRIEVAL_DOCUMENT"
}

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	engine, err := NewGenAIEngine(cfg.APIKey, cfg.Model, cfg.TaskType, cfg.Dimensions)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine created: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// ProductText flattens a product into the text that gets embedded.
// Field order is stable so re-embedding an unchanged product yields the
// same input.
func ProductText(p *types.Product) string {
	var parts []string
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}
	add(p.Name)
	add(p.Brand)
	add(p.CategoryL0)
	add(p.CategoryL1)
	add(p.Unit)
	add(p.KeyFeatures)
	if len(p.Tags) > 0 {
		parts = append(parts, strings.Join(p.Tags, " "))
	}
	add(p.Ingredients)
	return strings.Join(parts, " | ")
}

// ErrNoAPIKey is returned when embedding is requested without a key.
var ErrNoAPIKey = fmt.Errorf("embedding API key is required (set GEMINI_API_KEY)")
