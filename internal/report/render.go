package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vivacli/viva/internal/interview"
)

// Render formats the report as a markdown document.
func Render(rep *interview.Report, sess *interview.Session) string {
	var b strings.Builder

	b.WriteString("# Interview Report\n\n")
	if sess != nil && sess.Owner != "" {
		fmt.Fprintf(&b, "Candidate: %s\n\n", sess.Owner)
	}
	fmt.Fprintf(&b, "Session: %s\n\n", rep.SessionID)
	if !rep.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated: %s\n\n", rep.GeneratedAt.Format("2006-01-02 15:04 MST"))
	}

	b.WriteString("## Summary\n\n")
	b.WriteString(rep.SummaryText)
	b.WriteString("\n\n")

	if len(rep.PerTopicScores) > 0 {
		b.WriteString("## Assessment by Topic\n\n")
		b.WriteString("| Topic | Average | Questions |\n")
		b.WriteString("|-------|---------|-----------|\n")
		for _, topic := range rep.PerTopicScores {
			fmt.Fprintf(&b, "| %s | %.1f | %d |\n", topic.Topic, topic.AverageScore, topic.Turns)
		}
		b.WriteString("\n")
	}

	if len(rep.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		for _, rec := range rep.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Overall Score\n\n%.1f / 100 (%s)\n", rep.OverallScore, band(rep.OverallScore))

	return b.String()
}

// Export writes the rendered report into dir and returns the file path.
func Export(dir string, rep *interview.Report, sess *interview.Session) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("viva-report-%s.md", rep.SessionID))
	if err := os.WriteFile(path, []byte(Render(rep, sess)), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}
