// Package tracking loads the tracked sites and the competitor names known for
// each market category.
package tracking

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/platforms"
)

// Catalog is the tracking file: competitor lists per category plus the sites to scan.
type Catalog struct {
	Categories map[string][]string `yaml:"categories"`
	Sites      []Site              `yaml:"sites"`
}

// Site is a domain tracked on a schedule.
type Site struct {
	ID          string   `yaml:"id"`
	Domain      string   `yaml:"domain"`
	Brand       string   `yaml:"brand"`
	Category    string   `yaml:"category"`
	Plan        string   `yaml:"plan"`
	Competitors []string `yaml:"competitors"` // in addition to the category list
	Queries     []string `yaml:"queries"`     // custom questions, used before generated ones
}

// BrandName returns the configured brand or one derived from the domain
func (s Site) BrandName() string {
	if strings.TrimSpace(s.Brand) != "" {
		return strings.TrimSpace(s.Brand)
	}
	return BrandFromDomain(s.Domain)
}

// Load reads the tracking catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tracking: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a tracking catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "tracking: parse catalog")
	}
	if c.Categories == nil {
		c.Categories = make(map[string][]string)
	}

	seen := make(map[string]bool)
	for i := range c.Sites {
		site := &c.Sites[i]
		site.Domain = platforms.NormalizeDomain(site.Domain)

		if site.ID == "" {
			site.ID = site.Domain
		}
		if seen[site.ID] {
			return nil, eris.Errorf("tracking: duplicate site id %q", site.ID)
		}
		seen[site.ID] = true

		if err := platforms.ValidateDomain(site.Domain); err != nil {
			return nil, eris.Wrapf(err, "tracking: site %q", site.ID)
		}
		if site.Plan != "" {
			if _, ok := config.PlanFor(site.Plan); !ok {
				return nil, eris.Errorf("tracking: site %q has unknown plan %q", site.ID, site.Plan)
			}
		}
		if site.Category != "" {
			if _, ok := c.Categories[site.Category]; !ok {
				return nil, eris.Errorf("tracking: site %q references unknown category %q", site.ID, site.Category)
			}
		}
	}

	return &c, nil
}

// Site looks up a tracked site by id
func (c *Catalog) Site(id string) (Site, bool) {
	for _, s := range c.Sites {
		if s.ID == id {
			return s, true
		}
	}
	return Site{}, false
}

// CompetitorsFor returns the category competitors plus the site's own list,
// deduplicated case-insensitively, sorted, and without the site's brand.
func (c *Catalog) CompetitorsFor(site Site) []string {
	names := append([]string{}, c.Categories[site.Category]...)
	names = append(names, site.Competitors...)
	return dedupeNames(names, site.BrandName())
}

// CategoryCompetitors returns the competitor list of a category for ad-hoc scans
func (c *Catalog) CategoryCompetitors(category, brand string) []string {
	return dedupeNames(c.Categories[category], brand)
}

func dedupeNames(names []string, brand string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] || strings.EqualFold(n, brand) {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// twoLevelSuffixes are second-level labels that sit under a country code
var twoLevelSuffixes = map[string]bool{
	"co": true, "com": true, "org": true, "net": true, "ac": true, "gov": true, "edu": true,
}

// BrandFromDomain derives a display brand from the registrable label of a
// domain: "acme.io" becomes "Acme", "my-shop.co.uk" becomes "My Shop".
func BrandFromDomain(domain string) string {
	labels := strings.Split(platforms.NormalizeDomain(domain), ".")
	if len(labels) < 2 {
		return titleWords(labels[0])
	}

	idx := len(labels) - 2
	if len(labels) >= 3 && len(labels[len(labels)-1]) == 2 && twoLevelSuffixes[labels[idx]] {
		idx--
	}
	return titleWords(labels[idx])
}

func titleWords(label string) string {
	words := strings.FieldsFunc(label, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
