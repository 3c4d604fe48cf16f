package monitoring

import (
	"fmt"
	"strings"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// Query intents
const (
	IntentCustom         = "custom"
	IntentBestOf         = "best-of"
	IntentAlternatives   = "alternatives"
	IntentVersus         = "vs"
	IntentRecommendation = "recommendation"
	IntentReview         = "review"
	IntentHowTo          = "how-to"
	IntentPricing        = "pricing"
)

const defaultCategory = "software"

// audiences vary the recommendation questions once the base templates run out
var audiences = []string{
	"enterprise teams",
	"startups",
	"agencies",
	"remote teams",
	"freelancers",
	"nonprofits",
	"ecommerce businesses",
	"first-time buyers",
}

// QueryInput describes what the generated questions are about
type QueryInput struct {
	BrandName   string
	Category    string
	Competitors []string
	Custom      []string
}

// GenerateQueries builds exactly count distinct questions (none when count
// is below 1). Custom questions come first, then category templates, then
// one comparison per competitor, then audience and use-case variants.
// Questions never contain the domain itself.
func GenerateQueries(in QueryInput, count int) []models.ScanQuery {
	if count < 1 {
		return nil
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = defaultCategory
	}

	pool := make([]models.ScanQuery, 0, count)
	seen := make(map[string]bool)
	add := func(intent, text string) {
		key := strings.ToLower(text)
		if len(pool) == count || seen[key] {
			return
		}
		seen[key] = true
		pool = append(pool, models.ScanQuery{Text: text, Intent: intent})
	}

	for _, q := range in.Custom {
		if q = strings.TrimSpace(q); q != "" {
			add(IntentCustom, q)
		}
	}

	add(IntentBestOf, fmt.Sprintf("What are the best %s tools available right now?", category))
	if len(in.Competitors) > 0 {
		add(IntentAlternatives, fmt.Sprintf("What are the best alternatives to %s?", in.Competitors[0]))
		add(IntentVersus, fmt.Sprintf("%s vs %s: which one should I choose?", in.BrandName, in.Competitors[0]))
	} else {
		add(IntentAlternatives, fmt.Sprintf("What are some alternatives to %s?", in.BrandName))
		add(IntentVersus, fmt.Sprintf("How does %s compare to other %s options?", in.BrandName, category))
	}
	add(IntentRecommendation, fmt.Sprintf("Which %s would you recommend for a small business?", category))
	add(IntentReview, fmt.Sprintf("Is %s any good? Give me an honest review.", in.BrandName))
	add(IntentHowTo, fmt.Sprintf("How do I choose the right %s for my team?", category))
	add(IntentPricing, fmt.Sprintf("How much does %s usually cost? Compare the popular options.", category))

	for i, c := range in.Competitors {
		if i > 0 {
			add(IntentVersus, fmt.Sprintf("%s vs %s: which one should I choose?", in.BrandName, c))
		}
	}
	for i, c := range in.Competitors {
		if i > 0 {
			add(IntentAlternatives, fmt.Sprintf("What are the best alternatives to %s?", c))
		}
	}

	for _, a := range audiences {
		add(IntentRecommendation, fmt.Sprintf("Which %s would you recommend for %s?", category, a))
	}
	add(IntentBestOf, fmt.Sprintf("What are the best free %s tools?", category))
	add(IntentReview, fmt.Sprintf("What do users like and dislike about %s?", in.BrandName))
	add(IntentPricing, fmt.Sprintf("Is %s worth the price compared to other %s options?", in.BrandName, category))
	add(IntentHowTo, fmt.Sprintf("What features matter most when comparing %s tools?", category))
	add(IntentHowTo, fmt.Sprintf("How do I migrate to a new %s without losing data?", category))

	// numbered shortlists keep the pool growing for any count
	for n := 3; len(pool) < count; n++ {
		add(IntentBestOf, fmt.Sprintf("Name the top %d %s tools and what each one does best.", n, category))
	}
	return pool
}
