package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"google.golang.org/genai"
)

type GeminiClient struct {
	client             *genai.Client
	generativeModel    string
	embeddingModel     string
	embeddingDimension int32
	embeddingTaskType  string
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithEmbeddingDimension sets the output dimensionality requested from the embedding model
func WithEmbeddingDimension(dim int) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingDimension = int32(dim)
	}
}

// WithEmbeddingTaskType sets the embedding task type. RETRIEVAL_QUERY is the default;
// ingestion uses RETRIEVAL_DOCUMENT.
func WithEmbeddingTaskType(taskType string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingTaskType = taskType
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:             client,
		generativeModel:    "gemini-2.5-flash",
		embeddingModel:     "gemini-embedding-001",
		embeddingDimension: 768,
		embeddingTaskType:  "RETRIEVAL_QUERY",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	config := &genai.EmbedContentConfig{
		TaskType: g.embeddingTaskType,
	}
	if g.embeddingDimension > 0 {
		dim := g.embeddingDimension
		config.OutputDimensionality = &dim
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}

	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.Wrap(ErrPermanent, "empty embedding returned", goerr.V("model", g.embeddingModel))
	}

	return resp.Embeddings[0].Values, nil
}

func (g *GeminiClient) Generate(ctx context.Context, prompt *model.PromptPayload, opts GenerateOptions) (string, error) {
	contents := make([]*genai.Content, 0, len(prompt.Messages))
	for _, msg := range prompt.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == model.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}

	temperature := opts.Temperature
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, ""),
		Temperature:       &temperature,
		MaxOutputTokens:   opts.MaxTokens,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}

	return textFromResponse(resp)
}

// blockingFinishReasons are finish reasons meaning the answer was withheld by policy
var blockingFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:            true,
	genai.FinishReasonBlocklist:         true,
	genai.FinishReasonProhibitedContent: true,
	genai.FinishReasonSPII:              true,
}

// textFromResponse extracts the answer text, reporting policy blocks as ErrContentRejected
func textFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", goerr.New("nil response from Gemini")
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", goerr.Wrap(ErrContentRejected, "prompt blocked",
			goerr.V("reason", resp.PromptFeedback.BlockReason))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", goerr.New("no candidate in Gemini response")
	}

	candidate := resp.Candidates[0]
	if blockingFinishReasons[candidate.FinishReason] {
		return "", goerr.Wrap(ErrContentRejected, "answer blocked",
			goerr.V("finish_reason", candidate.FinishReason))
	}

	if candidate.Content == nil {
		return "", goerr.New("empty candidate content")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}

	return text.String(), nil
}

// TextFromResponseForTest is a test helper that exposes textFromResponse
func TextFromResponseForTest(resp *genai.GenerateContentResponse) (string, error) {
	return textFromResponse(resp)
}
