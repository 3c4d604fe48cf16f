package models

import (
	"fmt"
	"strings"
	"time"
)

// PlatformID identifies one of the AI platforms we query
type PlatformID string

const (
	PlatformPerplexity PlatformID = "perplexity"
	PlatformGoogleAI   PlatformID = "google_ai"
	PlatformChatGPT    PlatformID = "chatgpt"
)

// AllPlatforms lists every supported platform in a stable order
var AllPlatforms = []PlatformID{PlatformPerplexity, PlatformGoogleAI, PlatformChatGPT}

// ParsePlatform converts a user supplied name into a PlatformID
func ParsePlatform(name string) (PlatformID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "perplexity":
		return PlatformPerplexity, nil
	case "google_ai", "google", "gemini":
		return PlatformGoogleAI, nil
	case "chatgpt", "openai":
		return PlatformChatGPT, nil
	}
	return "", fmt.Errorf("unknown platform %q", name)
}

// ScanQuery is a natural-language question sent to the platforms
type ScanQuery struct {
	Text   string `json:"text"`
	Intent string `json:"intent"` // "best-of", "vs", "alternatives", ...
}

// PlatformResponse is the normalized answer of one platform to one query
type PlatformResponse struct {
	Platform     PlatformID `json:"platform"`
	Query        string     `json:"query"`
	RawText      string     `json:"raw_text"`
	CitedURLs    []string   `json:"cited_urls"`
	FetchedAt    time.Time  `json:"fetched_at"`
	Model        string     `json:"model,omitempty"`
	InputTokens  int        `json:"input_tokens,omitempty"`
	OutputTokens int        `json:"output_tokens,omitempty"`
}

// MentionResult classifies one PlatformResponse against the target domain and brand
type MentionResult struct {
	Platform         PlatformID `json:"platform"`
	Query            string     `json:"query"`
	MentionedBrand   bool       `json:"mentioned_brand"` // brand echo, regardless of genuineness
	DomainFound      bool       `json:"domain_found"`
	InCitations      bool       `json:"in_citations"`
	CompetitorBrands []string   `json:"competitor_brands"`
	MentionPosition  *float64   `json:"mention_position,omitempty"` // nil when there is no genuine mention
	Unavailable      bool       `json:"unavailable,omitempty"`      // stand-in for a failed platform call
}

// IsGenuine reports whether the platform referenced the domain itself, as
// opposed to merely echoing the brand name.
func (m MentionResult) IsGenuine() bool {
	return m.DomainFound || m.InCitations
}

// ScoreFactors holds the contribution of every scoring factor
type ScoreFactors struct {
	CitationPresence float64 `json:"citation_presence"`
	DomainVisibility float64 `json:"domain_visibility"`
	PositionBonus    float64 `json:"position_bonus"`
	MentionDepth     float64 `json:"mention_depth"`
	BrandEcho        float64 `json:"brand_echo"`
	MarketCrowding   float64 `json:"market_crowding"`
}

// Total sums all factor contributions
func (f ScoreFactors) Total() float64 {
	return f.CitationPresence + f.DomainVisibility + f.PositionBonus +
		f.MentionDepth + f.BrandEcho + f.MarketCrowding
}

// VisibilityScore is the aggregate visibility of one domain across one scan
type VisibilityScore struct {
	OverallScore        int                `json:"overall_score"`
	PlatformScores      map[PlatformID]int `json:"platform_scores"`
	IsInvisible         bool               `json:"is_invisible"`
	CompetitorsDetected []string           `json:"competitors_detected"`
	Factors             ScoreFactors       `json:"factors"`
}

// Observation is the raw detail of one (query, platform) call
type Observation struct {
	Query    ScanQuery         `json:"query"`
	Platform PlatformID        `json:"platform"`
	Response *PlatformResponse `json:"response,omitempty"`
	Mention  *MentionResult    `json:"mention,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration string            `json:"duration"`
}

// Gap is a query where competitors were surfaced but the brand was not
type Gap struct {
	Query       string     `json:"query"`
	Platform    PlatformID `json:"platform"`
	Competitors []string   `json:"competitors"`
}

// ScanReport is the full outcome of one visibility scan
type ScanReport struct {
	ID                   string          `json:"id"`
	SiteID               string          `json:"site_id,omitempty"`
	Domain               string          `json:"domain"`
	BrandName            string          `json:"brand_name"`
	StartedAt            time.Time       `json:"started_at"`
	CompletedAt          time.Time       `json:"completed_at"`
	Score                VisibilityScore `json:"score"`
	Mentions             []MentionResult `json:"mentions"`
	Observations         []Observation   `json:"observations"`
	Gaps                 []Gap           `json:"gaps"`
	UnavailablePlatforms []PlatformID    `json:"unavailable_platforms,omitempty"`
}

// Citation is a persisted record of the domain being cited by a platform
type Citation struct {
	ID       string     `json:"id"`
	SiteID   string     `json:"site_id"`
	ScanID   string     `json:"scan_id"`
	Domain   string     `json:"domain"`
	Platform PlatformID `json:"platform"`
	Query    string     `json:"query"`
	Snippet  string     `json:"snippet"`
	CitedURL string     `json:"cited_url"`
	CitedAt  time.Time  `json:"cited_at"`
}

// TrendPoint counts citations per platform per day
type TrendPoint struct {
	Day      time.Time  `json:"day"`
	Platform PlatformID `json:"platform"`
	Count    int        `json:"count"`
}

// Report represents a periodic digest of scans for tracked sites
type Report struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Period      string                 `json:"period"` // cron schedule description or "manual"
	TotalScans  int                    `json:"total_scans"`
	Scans       []ScanReport           `json:"scans"`
	Failures    map[string]string      `json:"failures,omitempty"` // site id -> error
	Summary     map[string]interface{} `json:"summary"`
}

// Alert represents an urgent notification
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "urgent", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Domain    string    `json:"domain,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
