package notifications

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/models"
)

func sampleReport() *models.Report {
	return &models.Report{
		GeneratedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		Period:      "0 0 9 * * MON",
		TotalScans:  2,
		Scans: []models.ScanReport{
			{Domain: "acme.io", Score: models.VisibilityScore{OverallScore: 93, CompetitorsDetected: []string{}}},
			{
				Domain: "ghost.dev",
				Score:  models.VisibilityScore{OverallScore: 0, IsInvisible: true, CompetitorsDetected: []string{"HubSpot"}},
				Gaps:   []models.Gap{{Query: "best crm", Platform: models.PlatformPerplexity, Competitors: []string{"HubSpot"}}},
			},
		},
		Failures: map[string]string{"broken": "scan failed: all 3 platform calls failed"},
		Summary: map[string]interface{}{
			"average_score":   46,
			"invisible_sites": []string{"ghost.dev"},
			"top_competitors": []string{"HubSpot (1)"},
		},
	}
}

func TestBuildTeamsMessage(t *testing.T) {
	s := NewService(&config.Config{})
	msg := s.buildTeamsMessage(sampleReport())

	assert.Equal(t, "MessageCard", msg.Type)
	assert.Equal(t, "D13438", msg.ThemeColor)
	require.Len(t, msg.Sections, 3)

	facts := map[string]string{}
	for _, f := range msg.Sections[0].Facts {
		facts[f.Name] = f.Value
	}
	assert.Equal(t, "2", facts["Sites Scanned"])
	assert.Equal(t, "1", facts["Failed Scans"])
	assert.Equal(t, "46/100", facts["Average Score"])
	assert.Equal(t, "HubSpot (1)", facts["Top Competitors"])

	assert.Equal(t, "**ghost.dev** - score 0/100 (INVISIBLE), 1 gaps\n\n**acme.io** - score 93/100 (visible), 0 gaps",
		msg.Sections[1].ActivityText)
	assert.Contains(t, msg.Sections[2].ActivityText, "broken: scan failed")
}

func TestBuildEmailText(t *testing.T) {
	text := buildEmailText(sampleReport())

	assert.Contains(t, text, "Sites Scanned: 2")
	assert.Contains(t, text, "Average Score: 46/100")
	assert.Contains(t, text, "1. ghost.dev - score 0/100 (INVISIBLE), 1 gaps")
	assert.Contains(t, text, "2. acme.io - score 93/100 (visible), 0 gaps")
	assert.Contains(t, text, "FAILED SCANS")
}

func TestBuildEmailHTML(t *testing.T) {
	html, err := buildEmailHTML(sampleReport())
	require.NoError(t, err)

	assert.Contains(t, html, "<strong>ghost.dev</strong> - 0/100")
	assert.Contains(t, html, `class="site invisible"`)
	assert.Contains(t, html, "competitors: HubSpot")
	assert.Contains(t, html, "Average Score:</strong> 46/100")
	assert.Contains(t, html, "broken: scan failed")
}

func TestSendReport_Teams(t *testing.T) {
	var received TeamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewService(&config.Config{TeamsWebhookURL: server.URL})
	require.NoError(t, s.SendReport(sampleReport()))
	assert.Equal(t, "AI Visibility Digest", received.Title)
}

func TestSendReport_TeamsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad card"))
	}))
	defer server.Close()

	s := NewService(&config.Config{TeamsWebhookURL: server.URL})
	err := s.SendReport(sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestSendAlert_Email(t *testing.T) {
	s := NewService(&config.Config{
		NotificationEmail: "team@example.com",
		SMTPUsername:      "bot@example.com",
	})

	var sent *gomail.Message
	s.send = func(m *gomail.Message) error {
		sent = m
		return nil
	}

	alert := &models.Alert{
		Type:      "urgent",
		Title:     "Ghost is invisible to AI platforms",
		Message:   "No platform mentioned Ghost.",
		Domain:    "ghost.dev",
		CreatedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SendAlert(alert))
	require.NotNil(t, sent)
	assert.Equal(t, []string{"[URGENT] Ghost is invisible to AI platforms"}, sent.GetHeader("Subject"))
	assert.Equal(t, []string{"team@example.com"}, sent.GetHeader("To"))

	s.send = func(*gomail.Message) error { return errors.New("smtp down") }
	err := s.SendAlert(alert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestSendReport_NoChannels(t *testing.T) {
	s := NewService(&config.Config{})
	assert.NoError(t, s.SendReport(sampleReport()))
	assert.NoError(t, s.SendAlert(&models.Alert{Title: "x"}))
}
