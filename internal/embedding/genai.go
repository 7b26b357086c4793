package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Task types accepted by the embedding endpoint. The API takes these as
// plain strings in EmbedContentConfig.
const (
	taskRetrievalDocument  = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery     = "RETRIEVAL_QUERY"
	taskSemanticSimilarity = "SEMANTIC_SIMILARITY"
	taskClassification     = "CLASSIFICATION"
	taskClustering         = "CLUSTERING"
)

// normalizeTaskType maps a configured task type onto one the API accepts,
// falling back to document retrieval.
func normalizeTaskType(taskType string) string {
	switch taskType {
	case taskRetrievalDocument, taskRetrievalQuery, taskSemanticSimilarity,
		taskClassification, taskClustering:
		return taskType
	default:
		return taskRetrievalDocument
	}
}

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client     *genai.Client
	model      string
	taskType   string
	dimensions int
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(apiKey, model, taskType string, dimensions int) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dimensions == 0 {
		dimensions = 768
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{
		client:     client,
		model:      model,
		taskType:   normalizeTaskType(taskType),
		dimensions: dimensions,
	}, nil
}

func (e *GenAIEngine) embedConfig(taskType string) *genai.EmbedContentConfig {
	dims := int32(e.dimensions)
	return &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dims,
	}
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, e.embedConfig(e.taskType))
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return result.Embeddings[0].Values, nil
}

// EmbedQuery generates an embedding for a search query. Query vectors
// pair against RETRIEVAL_DOCUMENT vectors regardless of the configured
// task type.
func (e *GenAIEngine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, e.embedConfig(taskRetrievalQuery))
	if err != nil {
		return nil, fmt.Errorf("GenAI query embed failed: %w", err)
	}

	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return result.Embeddings[0].Values, nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, e.embedConfig(e.taskType))
	if err != nil {
		return nil, fmt.Errorf("GenAI batch embed failed: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}

	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *GenAIEngine) Dimensions() int {
	return e.dimensions
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}
