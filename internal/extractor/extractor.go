// Package extractor classifies AI platform responses against a target brand.
// Everything here is a pure function of its inputs.
package extractor

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cabbageseo/geo-scanner/internal/models"
	"github.com/cabbageseo/geo-scanner/internal/platforms"
)

// snippetRadius is the number of characters kept on each side of a mention
const snippetRadius = 120

// Extractor holds the compiled matchers for one domain/brand pair
type Extractor struct {
	domain      string
	brand       string
	domainRe    *regexp.Regexp
	brandRe     *regexp.Regexp
	competitors []competitor
}

type competitor struct {
	name string
	re   *regexp.Regexp
}

// New builds an Extractor. Competitor names equal to the brand are ignored.
func New(domain, brandName string, competitors []string) *Extractor {
	e := &Extractor{
		domain: platforms.NormalizeDomain(domain),
		brand:  strings.TrimSpace(brandName),
	}

	if e.domain != "" {
		e.domainRe = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(e.domain))
	}
	if e.brand != "" {
		e.brandRe = wordPattern(e.brand)
	}

	seen := make(map[string]bool)
	for _, name := range competitors {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] || strings.EqualFold(name, e.brand) {
			continue
		}
		seen[key] = true
		e.competitors = append(e.competitors, competitor{name: name, re: wordPattern(name)})
	}

	return e
}

// Extract is a convenience wrapper around New(...).Extract
func Extract(resp models.PlatformResponse, domain, brandName string, competitors []string) models.MentionResult {
	return New(domain, brandName, competitors).Extract(resp)
}

// Extract classifies a single response
func (e *Extractor) Extract(resp models.PlatformResponse) models.MentionResult {
	result := models.MentionResult{
		Platform:         resp.Platform,
		Query:            resp.Query,
		CompetitorBrands: []string{},
	}

	domainIdx := e.domainIndex(resp.RawText)
	result.InCitations = e.inCitations(resp.CitedURLs)
	result.DomainFound = domainIdx >= 0 || result.InCitations

	brandIdx := e.brandIndex(resp.RawText)
	result.MentionedBrand = brandIdx >= 0

	for _, c := range e.competitors {
		if c.re.MatchString(resp.RawText) {
			result.CompetitorBrands = append(result.CompetitorBrands, c.name)
		}
	}
	sort.Strings(result.CompetitorBrands)

	if result.IsGenuine() {
		idx := domainIdx
		if idx < 0 {
			idx = brandIdx
		}
		pos := mentionPosition(resp.RawText, idx)
		result.MentionPosition = &pos
	}

	return result
}

// Snippet returns the text around the first mention of the domain or brand,
// or the start of the response when neither occurs in the text.
func (e *Extractor) Snippet(resp models.PlatformResponse) string {
	text := resp.RawText
	idx := firstIndex(e.domainIndex(text), e.brandIndex(text))
	if idx < 0 {
		idx = 0
	}

	start := idx
	for n := 0; n < snippetRadius && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	end := idx
	for n := 0; n < snippetRadius && end < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}

	snippet := strings.Join(strings.Fields(text[start:end]), " ")
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return snippet
}

// CitedURL returns the first cited URL that contains the domain, or ""
func (e *Extractor) CitedURL(resp models.PlatformResponse) string {
	if e.domain == "" {
		return ""
	}
	for _, u := range resp.CitedURLs {
		if strings.Contains(strings.ToLower(u), e.domain) {
			return u
		}
	}
	return ""
}

func (e *Extractor) domainIndex(text string) int {
	if e.domainRe == nil {
		return -1
	}
	if loc := e.domainRe.FindStringIndex(text); loc != nil {
		return loc[0]
	}
	return -1
}

func (e *Extractor) brandIndex(text string) int {
	if e.brandRe == nil {
		return -1
	}
	if loc := e.brandRe.FindStringSubmatchIndex(text); loc != nil {
		return loc[2]
	}
	return -1
}

func (e *Extractor) inCitations(urls []string) bool {
	return e.CitedURL(models.PlatformResponse{CitedURLs: urls}) != ""
}

// wordPattern matches name case-insensitively when it is not glued to other
// letters or digits. Group 1 is the name itself.
func wordPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(` + regexp.QuoteMeta(name) + `)(?:$|[^\p{L}\p{N}_])`)
}

func firstIndex(a, b int) int {
	switch {
	case a < 0:
		return b
	case b < 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// mentionPosition normalizes a byte offset into [0,1] by character count.
// The offset is the domain's when the text contains it, else the brand's.
// A citation with neither in the text sits at 1.
func mentionPosition(text string, byteIdx int) float64 {
	total := utf8.RuneCountInString(text)
	if byteIdx < 0 || total == 0 {
		return 1
	}

	pos := float64(utf8.RuneCountInString(text[:byteIdx])) / float64(total)
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}
