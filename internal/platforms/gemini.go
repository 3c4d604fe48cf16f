package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// groundingRedirectHost serves the opaque redirect links Gemini returns for
// grounding sources; the real source host is carried in the chunk title.
const groundingRedirectHost = "vertexaisearch.cloud.google.com"

// GeminiPlatform queries Google AI (Gemini) with Google Search grounding enabled
type GeminiPlatform struct {
	apiKey string
	opts   Options
	client *resty.Client
	guard  *guard
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent       `json:"contents"`
	Tools    []map[string]struct{} `json:"tools,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content           geminiContent `json:"content"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// NewGeminiPlatform creates a new Google AI adapter
func NewGeminiPlatform(apiKey string, opts Options) *GeminiPlatform {
	opts = opts.withDefaults("https://generativelanguage.googleapis.com", "gemini-2.0-flash")
	return &GeminiPlatform{
		apiKey: apiKey,
		opts:   opts,
		client: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("User-Agent", "CabbageSEO-Scanner/1.0"),
		guard: newGuard(models.PlatformGoogleAI, opts),
	}
}

func (g *GeminiPlatform) ID() models.PlatformID {
	return models.PlatformGoogleAI
}

func (g *GeminiPlatform) IsEnabled() bool {
	return g.apiKey != ""
}

func (g *GeminiPlatform) Query(ctx context.Context, domain, question string) (*models.PlatformResponse, error) {
	if err := validateRequest(domain, question); err != nil {
		return nil, err
	}
	if !g.IsEnabled() {
		logrus.Debug("Google AI platform disabled - missing API key")
		return nil, unavailable(g.ID())
	}

	var result *models.PlatformResponse
	err := g.guard.do(ctx, func(ctx context.Context) error {
		var err error
		result, err = g.generate(ctx, question)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *GeminiPlatform) generate(ctx context.Context, question string) (*models.PlatformResponse, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: question}}}},
		Tools:    []map[string]struct{}{{"google_search": {}}},
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimSuffix(g.opts.BaseURL, "/"), url.PathEscape(g.opts.Model))

	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", g.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, classifyTransport(g.ID(), eris.Wrap(err, "gemini: send request"))
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatus(g.ID(), resp.StatusCode(), resp.Body())
	}

	var parsed geminiResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, malformed(g.ID(), eris.Wrap(err, "gemini: unmarshal response"))
	}

	var text strings.Builder
	var cited []string
	if len(parsed.Candidates) > 0 {
		candidate := parsed.Candidates[0]
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		if candidate.GroundingMetadata != nil {
			for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
				if chunk.Web == nil {
					continue
				}
				cited = append(cited, groundingURL(chunk.Web.URI, chunk.Web.Title))
			}
		}
	}

	model := parsed.ModelVersion
	if model == "" {
		model = g.opts.Model
	}

	return &models.PlatformResponse{
		Platform:     g.ID(),
		Query:        question,
		RawText:      text.String(),
		CitedURLs:    dedupeURLs(cited),
		FetchedAt:    time.Now().UTC(),
		Model:        model,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// groundingURL resolves a grounding chunk into the URL of the cited source.
// Redirect links are replaced by the source host when the title names one.
func groundingURL(uri, title string) string {
	parsed, err := url.Parse(uri)
	if err == nil && parsed.Host != groundingRedirectHost {
		return uri
	}
	if ValidateDomain(title) == nil {
		return "https://" + strings.ToLower(strings.TrimSpace(title))
	}
	return uri
}
