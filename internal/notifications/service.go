package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/models"
)

// Service delivers scan digests and alerts to Teams and email
type Service struct {
	config *config.Config
	client *resty.Client
	send   func(m *gomail.Message) error
}

var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message card
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	s := &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
	s.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		return d.DialAndSend(m)
	}
	return s
}

// SendReport sends a digest via every configured channel
func (s *Service) SendReport(report *models.Report) error {
	return s.deliver("report",
		func() error { return s.postTeams(s.buildTeamsMessage(report)) },
		func() error { return s.sendReportEmail(report) },
	)
}

// SendAlert sends an urgent alert via every configured channel
func (s *Service) SendAlert(alert *models.Alert) error {
	return s.deliver("alert",
		func() error { return s.postTeams(buildTeamsAlert(alert)) },
		func() error { return s.sendAlertEmail(alert) },
	)
}

func (s *Service) deliver(kind string, teams, email func() error) error {
	var errs []string

	if s.config.TeamsWebhookURL != "" {
		if err := teams(); err != nil {
			logrus.Errorf("Failed to send Teams %s: %v", kind, err)
			errs = append(errs, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Successfully sent %s to Teams", kind)
		}
	}

	if s.config.NotificationEmail != "" {
		if err := email(); err != nil {
			logrus.Errorf("Failed to send %s email: %v", kind, err)
			errs = append(errs, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Successfully sent %s via email", kind)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s *Service) postTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}

// sortedScans orders scans by score, lowest first
func sortedScans(report *models.Report) []models.ScanReport {
	scans := append([]models.ScanReport{}, report.Scans...)
	sort.SliceStable(scans, func(i, j int) bool {
		return scans[i].Score.OverallScore < scans[j].Score.OverallScore
	})
	return scans
}

func (s *Service) buildTeamsMessage(report *models.Report) *TeamsMessage {
	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: "2E7D32",
		Title:      "AI Visibility Digest",
		Text:       fmt.Sprintf("Scanned %d tracked sites", report.TotalScans),
	}

	facts := []TeamsFact{
		{Name: "Sites Scanned", Value: fmt.Sprintf("%d", report.TotalScans)},
		{Name: "Failed Scans", Value: fmt.Sprintf("%d", len(report.Failures))},
		{Name: "Generated", Value: report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	if avg, ok := report.Summary["average_score"].(int); ok {
		facts = append(facts, TeamsFact{Name: "Average Score", Value: fmt.Sprintf("%d/100", avg)})
	}
	if top, ok := report.Summary["top_competitors"].([]string); ok && len(top) > 0 {
		facts = append(facts, TeamsFact{Name: "Top Competitors", Value: strings.Join(top, ", ")})
	}

	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts:         facts,
		Markdown:      true,
	})

	if len(report.Scans) > 0 {
		var lines []string
		for i, scan := range sortedScans(report) {
			if i >= 10 {
				break
			}
			lines = append(lines, scanLine(scan, true))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Sites",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	if len(report.Failures) > 0 {
		message.ThemeColor = "D13438"
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Failed Scans",
			ActivityText:  failureLines(report.Failures, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func buildTeamsAlert(alert *models.Alert) *TeamsMessage {
	return &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: "D13438",
		Title:      fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title),
		Text:       alert.Message,
		Sections: []TeamsSection{{
			Facts: []TeamsFact{
				{Name: "Domain", Value: alert.Domain},
				{Name: "Raised", Value: alert.CreatedAt.Format("2006-01-02 15:04:05 UTC")},
			},
		}},
	}
}

func scanLine(scan models.ScanReport, markdown bool) string {
	status := "visible"
	if scan.Score.IsInvisible {
		status = "INVISIBLE"
	}
	name := scan.Domain
	if markdown {
		name = "**" + scan.Domain + "**"
	}
	return fmt.Sprintf("%s - score %d/100 (%s), %d gaps", name, scan.Score.OverallScore, status, len(scan.Gaps))
}

func failureLines(failures map[string]string, sep string) string {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("%s: %s", id, failures[id]))
	}
	return strings.Join(lines, sep)
}

func (s *Service) sendReportEmail(report *models.Report) error {
	subject := fmt.Sprintf("AI Visibility Digest - %d sites scanned", report.TotalScans)

	htmlBody, err := buildEmailHTML(report)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	return s.sendEmail(subject, buildEmailText(report), htmlBody)
}

func (s *Service) sendAlertEmail(alert *models.Alert) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title)
	body := fmt.Sprintf("%s\n\nDomain: %s\nRaised: %s\n", alert.Message, alert.Domain,
		alert.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	return s.sendEmail(subject, body, "")
}

func (s *Service) sendEmail(subject, textBody, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}

	if err := s.send(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

const emailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>AI Visibility Digest</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #2e7d32; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .site { border-left: 4px solid #2e7d32; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .invisible { border-left-color: #d13438; }
        .meta { color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    <div class="header">
        <h1>AI Visibility Digest</h1>
        <p>Generated on {{.Report.GeneratedAt.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Sites Scanned:</strong> {{.Report.TotalScans}}</p>
        {{with .Report.Summary.average_score}}<p><strong>Average Score:</strong> {{.}}/100</p>{{end}}
        {{with .Report.Summary.top_competitors}}<p><strong>Top Competitors:</strong> {{join . ", "}}</p>{{end}}
    </div>

    {{range .Scans}}
    <div class="site{{if .Score.IsInvisible}} invisible{{end}}">
        <strong>{{.Domain}}</strong> - {{.Score.OverallScore}}/100
        <div class="meta">
            {{len .Mentions}} answers, {{len .Gaps}} gaps
            {{if .Score.CompetitorsDetected}} | competitors: {{join .Score.CompetitorsDetected ", "}}{{end}}
        </div>
    </div>
    {{end}}

    {{if .Report.Failures}}
    <h2>Failed Scans</h2>
    <ul>{{range $site, $err := .Report.Failures}}<li>{{$site}}: {{$err}}</li>{{end}}</ul>
    {{end}}

    <hr>
    <p><small>This digest was generated automatically by the GEO scanner.</small></p>
</body>
</html>
`

var emailTmpl = template.Must(template.New("email").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(emailTemplate))

func buildEmailHTML(report *models.Report) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Report *models.Report
		Scans  []models.ScanReport
	}{report, sortedScans(report)}

	if err := emailTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildEmailText(report *models.Report) string {
	var text strings.Builder

	text.WriteString("AI Visibility Digest\n")
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Sites Scanned: %d\n", report.TotalScans))
	if avg, ok := report.Summary["average_score"].(int); ok {
		text.WriteString(fmt.Sprintf("Average Score: %d/100\n", avg))
	}
	if top, ok := report.Summary["top_competitors"].([]string); ok && len(top) > 0 {
		text.WriteString(fmt.Sprintf("Top Competitors: %s\n", strings.Join(top, ", ")))
	}

	if len(report.Scans) > 0 {
		text.WriteString("\nSITES\n")
		text.WriteString("=====\n")
		for i, scan := range sortedScans(report) {
			text.WriteString(fmt.Sprintf("%d. %s\n", i+1, scanLine(scan, false)))
		}
	}

	if len(report.Failures) > 0 {
		text.WriteString("\nFAILED SCANS\n")
		text.WriteString("============\n")
		text.WriteString(failureLines(report.Failures, "\n") + "\n")
	}

	text.WriteString("\n---\nThis digest was generated automatically by the GEO scanner.\n")

	return text.String()
}
