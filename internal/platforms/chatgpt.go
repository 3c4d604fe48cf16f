package platforms

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// ChatGPTPlatform queries the OpenAI chat completions API. Chat completions
// carry no source metadata, so CitedURLs is always empty.
type ChatGPTPlatform struct {
	apiKey string
	opts   Options
	client *openai.Client
	guard  *guard
}

// NewChatGPTPlatform creates a new ChatGPT adapter
func NewChatGPTPlatform(apiKey string, opts Options) *ChatGPTPlatform {
	opts = opts.withDefaults("https://api.openai.com/v1", openai.GPT4oMini)

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &ChatGPTPlatform{
		apiKey: apiKey,
		opts:   opts,
		client: openai.NewClientWithConfig(clientConfig),
		guard:  newGuard(models.PlatformChatGPT, opts),
	}
}

func (c *ChatGPTPlatform) ID() models.PlatformID {
	return models.PlatformChatGPT
}

func (c *ChatGPTPlatform) IsEnabled() bool {
	return c.apiKey != ""
}

func (c *ChatGPTPlatform) Query(ctx context.Context, domain, question string) (*models.PlatformResponse, error) {
	if err := validateRequest(domain, question); err != nil {
		return nil, err
	}
	if !c.IsEnabled() {
		logrus.Debug("ChatGPT platform disabled - missing API key")
		return nil, unavailable(c.ID())
	}

	var result *models.PlatformResponse
	err := c.guard.do(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.complete(ctx, question)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *ChatGPTPlatform) complete(ctx context.Context, question string) (*models.PlatformResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Answer the question directly. Name specific products and websites where relevant."},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
	})
	if err != nil {
		return nil, c.classify(err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	model := resp.Model
	if model == "" {
		model = c.opts.Model
	}

	return &models.PlatformResponse{
		Platform:     c.ID(),
		Query:        question,
		RawText:      text,
		CitedURLs:    []string{},
		FetchedAt:    time.Now().UTC(),
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// classify maps go-openai's error types onto ProviderError
func (c *ChatGPTPlatform) classify(err error) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return classifyStatus(c.ID(), apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return classifyStatus(c.ID(), reqErr.HTTPStatusCode, reqErr.Body)
	}

	return classifyTransport(c.ID(), eris.Wrap(err, "chatgpt: create chat completion"))
}
