package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to OpenAI or an Azure OpenAI deployment
type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	dimensions     int
}

type openAIConfig struct {
	baseURL    string
	azure      bool
	apiVersion string
}

type OpenAIOption func(*OpenAIClient, *openAIConfig)

// WithOpenAIChatModel sets the chat model, or the deployment name on Azure
func WithOpenAIChatModel(model string) OpenAIOption {
	return func(c *OpenAIClient, _ *openAIConfig) {
		c.chatModel = model
	}
}

// WithOpenAIEmbeddingModel sets the embedding model, or the deployment name on Azure
func WithOpenAIEmbeddingModel(model string) OpenAIOption {
	return func(c *OpenAIClient, _ *openAIConfig) {
		c.embeddingModel = model
	}
}

// WithOpenAIDimensions requests embeddings of the given size. Zero keeps the model default.
func WithOpenAIDimensions(dim int) OpenAIOption {
	return func(c *OpenAIClient, _ *openAIConfig) {
		c.dimensions = dim
	}
}

// WithOpenAIBaseURL points the client to an OpenAI compatible endpoint
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(_ *OpenAIClient, cfg *openAIConfig) {
		cfg.baseURL = url
	}
}

// WithAzure switches the client to Azure OpenAI with the given resource endpoint
func WithAzure(endpoint, apiVersion string) OpenAIOption {
	return func(_ *OpenAIClient, cfg *openAIConfig) {
		cfg.azure = true
		cfg.baseURL = endpoint
		cfg.apiVersion = apiVersion
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, goerr.New("openai api key is required")
	}

	c := &OpenAIClient{
		chatModel:      openai.GPT4oMini,
		embeddingModel: string(openai.SmallEmbedding3),
	}
	var cfg openAIConfig
	for _, opt := range opts {
		opt(c, &cfg)
	}

	var clientConfig openai.ClientConfig
	if cfg.azure {
		if cfg.baseURL == "" {
			return nil, goerr.New("azure endpoint is required")
		}
		clientConfig = openai.DefaultAzureConfig(apiKey, cfg.baseURL)
		if cfg.apiVersion != "" {
			clientConfig.APIVersion = cfg.apiVersion
		}
		// Model names are deployment names on Azure
		clientConfig.AzureModelMapperFunc = func(model string) string { return model }
	} else {
		clientConfig = openai.DefaultConfig(apiKey)
		if cfg.baseURL != "" {
			clientConfig.BaseURL = cfg.baseURL
		}
	}

	c.client = openai.NewClientWithConfig(clientConfig)
	return c, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.embeddingModel),
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embeddings", goerr.V("model", c.embeddingModel))
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, goerr.Wrap(ErrPermanent, "no embedding data returned", goerr.V("model", c.embeddingModel))
	}

	return resp.Data[0].Embedding, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt *model.PromptPayload, opts GenerateOptions) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(prompt.Messages)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt.System,
	})
	for _, msg := range prompt.Messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == model.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Text,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               c.chatModel,
		Messages:            messages,
		MaxCompletionTokens: int(opts.MaxTokens),
		Temperature:         opts.Temperature,
	})
	if err != nil {
		if isContentFilterError(err) {
			return "", goerr.Wrap(ErrContentRejected, "prompt rejected by content filter", goerr.V("cause", err.Error()))
		}
		return "", goerr.Wrap(err, "failed to create chat completion", goerr.V("model", c.chatModel))
	}

	return textFromChatResponse(resp)
}

func textFromChatResponse(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", goerr.New("no choice in chat completion response")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", goerr.Wrap(ErrContentRejected, "answer withheld by content filter")
	}

	return choice.Message.Content, nil
}

// isContentFilterError detects Azure's prompt-side content filter rejection
func isContentFilterError(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code, _ := apiErr.Code.(string)
	return code == "content_filter" || strings.Contains(apiErr.Message, "content management policy")
}

// TextFromChatResponseForTest is a test helper that exposes textFromChatResponse
func TextFromChatResponseForTest(resp openai.ChatCompletionResponse) (string, error) {
	return textFromChatResponse(resp)
}
