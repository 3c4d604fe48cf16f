package platforms

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// PerplexityPlatform queries the Perplexity chat completions API, which
// returns the sources it searched alongside the answer.
type PerplexityPlatform struct {
	apiKey string
	opts   Options
	client *resty.Client
	guard  *guard
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityRequest struct {
	Model           string              `json:"model"`
	Messages        []perplexityMessage `json:"messages"`
	ReturnCitations bool                `json:"return_citations"`
}

type perplexityResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message perplexityMessage `json:"message"`
	} `json:"choices"`
	Citations     []string `json:"citations"`
	SearchResults []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"search_results"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewPerplexityPlatform creates a new Perplexity adapter
func NewPerplexityPlatform(apiKey string, opts Options) *PerplexityPlatform {
	opts = opts.withDefaults("https://api.perplexity.ai", "sonar")
	return &PerplexityPlatform{
		apiKey: apiKey,
		opts:   opts,
		client: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("User-Agent", "CabbageSEO-Scanner/1.0"),
		guard: newGuard(models.PlatformPerplexity, opts),
	}
}

func (p *PerplexityPlatform) ID() models.PlatformID {
	return models.PlatformPerplexity
}

func (p *PerplexityPlatform) IsEnabled() bool {
	return p.apiKey != ""
}

func (p *PerplexityPlatform) Query(ctx context.Context, domain, question string) (*models.PlatformResponse, error) {
	if err := validateRequest(domain, question); err != nil {
		return nil, err
	}
	if !p.IsEnabled() {
		logrus.Debug("Perplexity platform disabled - missing API key")
		return nil, unavailable(p.ID())
	}

	var result *models.PlatformResponse
	err := p.guard.do(ctx, func(ctx context.Context) error {
		var err error
		result, err = p.complete(ctx, question)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PerplexityPlatform) complete(ctx context.Context, question string) (*models.PlatformResponse, error) {
	body := perplexityRequest{
		Model: p.opts.Model,
		Messages: []perplexityMessage{
			{Role: "system", Content: "Answer the question directly and cite the sources you relied on."},
			{Role: "user", Content: question},
		},
		ReturnCitations: true,
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+p.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(strings.TrimSuffix(p.opts.BaseURL, "/") + "/chat/completions")
	if err != nil {
		return nil, classifyTransport(p.ID(), eris.Wrap(err, "perplexity: send request"))
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatus(p.ID(), resp.StatusCode(), resp.Body())
	}

	var parsed perplexityResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, malformed(p.ID(), eris.Wrap(err, "perplexity: unmarshal response"))
	}

	var text string
	if len(parsed.Choices) > 0 {
		text = parsed.Choices[0].Message.Content
	}

	cited := parsed.Citations
	if len(cited) == 0 {
		for _, sr := range parsed.SearchResults {
			cited = append(cited, sr.URL)
		}
	}

	model := parsed.Model
	if model == "" {
		model = p.opts.Model
	}

	return &models.PlatformResponse{
		Platform:     p.ID(),
		Query:        question,
		RawText:      text,
		CitedURLs:    dedupeURLs(cited),
		FetchedAt:    time.Now().UTC(),
		Model:        model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// dedupeURLs drops blanks and repeats while keeping the provider's order
func dedupeURLs(urls []string) []string {
	seen := make(map[string]bool)
	unique := make([]string, 0, len(urls))

	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		unique = append(unique, u)
	}

	return unique
}
