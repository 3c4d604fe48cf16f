// Package scorer turns mention results into a 0-100 visibility score.
//
// The score is the sum of six weighted factors:
//
//	Citation Presence  40  fraction of platforms citing the domain as a source
//	Domain Visibility  25  fraction of platforms naming the domain
//	Position Bonus     12  mean (1 - position) over platforms with a genuine mention
//	Mention Depth      10  log-scaled count of genuine mentions
//	Brand Echo          8  fraction of platforms naming the brand at all
//	Market Crowding     5  exponential decay in distinct competitors named
//
// A platform counts as citing/naming/echoing when any of its results does.
// Results flagged Unavailable stand in for failed calls and count as silent.
package scorer

import (
	"errors"
	"math"
	"sort"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

const (
	WeightCitationPresence = 40.0
	WeightDomainVisibility = 25.0
	WeightPositionBonus    = 12.0
	WeightMentionDepth     = 10.0
	WeightBrandEcho        = 8.0
	WeightMarketCrowding   = 5.0
)

const (
	DefaultMarketCrowdingK     = 0.15
	DefaultMaxExpectedMentions = 10
)

// ErrInsufficientData is returned when no platform produced a usable result
var ErrInsufficientData = errors.New("insufficient data: try again")

// Config holds the tunable curve constants
type Config struct {
	// MarketCrowdingK is the decay rate per distinct competitor
	MarketCrowdingK float64
	// MaxExpectedMentions is the genuine mention count at which depth saturates
	MaxExpectedMentions int
}

// Scorer computes visibility scores. It holds no mutable state.
type Scorer struct {
	cfg Config
}

// New creates a Scorer, falling back to defaults for unset values
func New(cfg Config) *Scorer {
	if cfg.MarketCrowdingK <= 0 {
		cfg.MarketCrowdingK = DefaultMarketCrowdingK
	}
	if cfg.MaxExpectedMentions < 1 {
		cfg.MaxExpectedMentions = DefaultMaxExpectedMentions
	}
	return &Scorer{cfg: cfg}
}

// platformSignal is the per-platform reduction of its mention results
type platformSignal struct {
	platform     models.PlatformID
	available    bool
	cites        bool
	domain       bool
	echo         bool
	genuine      int
	bestPosition float64
	competitors  map[string]bool
}

// Score computes the visibility score for one scan
func (s *Scorer) Score(results []models.MentionResult) (models.VisibilityScore, error) {
	signals := collect(results)

	available := false
	for _, sig := range signals {
		if sig.available {
			available = true
			break
		}
	}
	if !available {
		return models.VisibilityScore{}, ErrInsufficientData
	}

	factors := s.factors(signals)

	score := models.VisibilityScore{
		OverallScore:        toScore(factors.Total()),
		PlatformScores:      make(map[models.PlatformID]int),
		IsInvisible:         factors.CitationPresence == 0 && factors.DomainVisibility == 0 && factors.BrandEcho == 0,
		CompetitorsDetected: []string{},
		Factors:             factors,
	}

	union := make(map[string]bool)
	for _, sig := range signals {
		for name := range sig.competitors {
			union[name] = true
		}
		if !sig.available {
			continue
		}
		score.PlatformScores[sig.platform] = toScore(s.factors([]*platformSignal{sig}).Total())
	}

	for name := range union {
		score.CompetitorsDetected = append(score.CompetitorsDetected, name)
	}
	sort.Strings(score.CompetitorsDetected)

	return score, nil
}

// Score is a convenience wrapper using the default constants
func Score(results []models.MentionResult) (models.VisibilityScore, error) {
	return New(Config{}).Score(results)
}

func collect(results []models.MentionResult) []*platformSignal {
	byPlatform := make(map[models.PlatformID]*platformSignal)

	for _, r := range results {
		sig, ok := byPlatform[r.Platform]
		if !ok {
			sig = &platformSignal{
				platform:     r.Platform,
				bestPosition: 1,
				competitors:  make(map[string]bool),
			}
			byPlatform[r.Platform] = sig
		}
		if r.Unavailable {
			continue
		}

		sig.available = true
		sig.cites = sig.cites || r.InCitations
		sig.domain = sig.domain || r.DomainFound
		sig.echo = sig.echo || r.MentionedBrand
		for _, name := range r.CompetitorBrands {
			sig.competitors[name] = true
		}

		if r.IsGenuine() {
			sig.genuine++
			pos := 1.0
			if r.MentionPosition != nil {
				pos = clamp(*r.MentionPosition, 0, 1)
			}
			if pos < sig.bestPosition {
				sig.bestPosition = pos
			}
		}
	}

	signals := make([]*platformSignal, 0, len(byPlatform))
	for _, sig := range byPlatform {
		signals = append(signals, sig)
	}
	sort.Slice(signals, func(i, j int) bool {
		return signals[i].platform < signals[j].platform
	})
	return signals
}

func (s *Scorer) factors(signals []*platformSignal) models.ScoreFactors {
	var f models.ScoreFactors
	if len(signals) == 0 {
		return f
	}

	var cites, domains, echoes, genuinePlatforms, genuineTotal int
	var positionSum float64
	competitors := make(map[string]bool)

	for _, sig := range signals {
		if sig.cites {
			cites++
		}
		if sig.domain {
			domains++
		}
		if sig.echo {
			echoes++
		}
		if sig.genuine > 0 {
			genuinePlatforms++
			genuineTotal += sig.genuine
			positionSum += 1 - sig.bestPosition
		}
		for name := range sig.competitors {
			competitors[name] = true
		}
	}

	n := float64(len(signals))
	f.CitationPresence = WeightCitationPresence * float64(cites) / n
	f.DomainVisibility = WeightDomainVisibility * float64(domains) / n
	f.BrandEcho = WeightBrandEcho * float64(echoes) / n

	if genuinePlatforms > 0 {
		f.PositionBonus = WeightPositionBonus * positionSum / float64(genuinePlatforms)

		depth := math.Log1p(float64(genuineTotal)) / math.Log1p(float64(s.cfg.MaxExpectedMentions))
		f.MentionDepth = math.Min(WeightMentionDepth, WeightMentionDepth*depth)

		// Crowding applies only with a genuine mention, so echo-only scans
		// stay at or below WeightBrandEcho.
		f.MarketCrowding = WeightMarketCrowding * math.Exp(-s.cfg.MarketCrowdingK*float64(len(competitors)))
	}

	return f
}

func toScore(total float64) int {
	return int(clamp(math.Round(total), 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
