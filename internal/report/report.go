// Package report synthesizes the final summary of a concluded interview.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/interview"
	"github.com/vivacli/viva/internal/llm"
	"github.com/vivacli/viva/internal/utils"
)

type completionClient interface {
	Complete(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const defaultMaxLogLength = 200

var now = time.Now

// Synthesizer builds the final report. The numeric sections are computed from
// the session; the narrative comes from the language model and degrades to a
// templated text when the model is unavailable, so synthesis itself never
// fails on an outage.
type Synthesizer struct {
	client    completionClient
	logger    *zap.Logger
	maxLogLen int
}

func New(client completionClient, logger *zap.Logger, maxLogLength int) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Synthesizer{
		client:    client,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// Synthesize builds the report for a concluded session with at least one
// recorded turn.
func (s *Synthesizer) Synthesize(ctx context.Context, sess *interview.Session) (*interview.Report, error) {
	if sess == nil || !sess.Concluded() {
		return nil, fmt.Errorf("%w: report requires a concluded session", interview.ErrPrecondition)
	}
	if len(sess.History) == 0 {
		return nil, fmt.Errorf("%w: report requires at least one answered question", interview.ErrPrecondition)
	}

	topics := topicAverages(sess)
	summary, recommendations := s.narrative(ctx, sess, topics)

	return &interview.Report{
		SessionID:       sess.ID,
		SummaryText:     summary,
		PerTopicScores:  topics,
		OverallScore:    sess.RunningAverageScore,
		Recommendations: recommendations,
		GeneratedAt:     now().UTC(),
	}, nil
}

// narrative asks the model for the written sections and falls back to the
// templated text on any failure.
func (s *Synthesizer) narrative(ctx context.Context, sess *interview.Session, topics []interview.TopicScore) (string, []string) {
	if s.client == nil {
		return templatedSummary(sess, topics), templatedRecommendations(sess, topics)
	}

	prompt := buildPrompt(sess, topics)

	s.logger.Debug("report request",
		zap.String("session_id", sess.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, s.maxLogLen)),
	)

	raw, err := s.client.Complete(ctx, prompt, llm.Options{
		Model:       sess.Settings.ModelName,
		Temperature: sess.Settings.Temperature,
	})
	if err != nil {
		s.logger.Warn("report narrative degraded to template",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return templatedSummary(sess, topics), templatedRecommendations(sess, topics)
	}

	s.logger.Debug("report response",
		zap.String("session_id", sess.ID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
	)

	summary, recommendations, err := parseNarrative(raw)
	if err != nil {
		s.logger.Warn("report narrative degraded to template",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return templatedSummary(sess, topics), templatedRecommendations(sess, topics)
	}

	if len(recommendations) == 0 {
		recommendations = templatedRecommendations(sess, topics)
	}
	return summary, recommendations
}

func parseNarrative(raw string) (string, []string, error) {
	var narrative struct {
		Summary         string   `json:"summary"`
		Recommendations []string `json:"recommendations"`
	}
	if err := llm.Unmarshal(raw, &narrative); err != nil {
		return "", nil, fmt.Errorf("parsing narrative: %w", err)
	}

	summary := strings.TrimSpace(narrative.Summary)
	if summary == "" {
		return "", nil, fmt.Errorf("narrative has no summary")
	}

	var recommendations []string
	for _, rec := range narrative.Recommendations {
		if rec = strings.TrimSpace(rec); rec != "" {
			recommendations = append(recommendations, rec)
		}
	}
	return summary, recommendations, nil
}

// topicAverages groups the recorded turns by topic tag, sorted by topic for a
// stable report.
func topicAverages(sess *interview.Session) []interview.TopicScore {
	index := make(map[string]int)
	var topics []interview.TopicScore

	for _, turn := range sess.History {
		topic := "general"
		if spec := sess.SpecByID(turn.QuestionID); spec != nil && spec.TopicTag != "" {
			topic = spec.TopicTag
		}

		i, ok := index[topic]
		if !ok {
			i = len(topics)
			index[topic] = i
			topics = append(topics, interview.TopicScore{Topic: topic})
		}
		total := topics[i].AverageScore*float64(topics[i].Turns) + turn.Score
		topics[i].Turns++
		topics[i].AverageScore = total / float64(topics[i].Turns)
	}

	sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })
	return topics
}

func templatedSummary(sess *interview.Session, topics []interview.TopicScore) string {
	strongest, weakest := extremes(topics)

	var b strings.Builder
	fmt.Fprintf(&b, "The candidate answered %d questions across %d topics with an overall score of %.1f (%s). ",
		len(sess.History), len(topics), sess.RunningAverageScore, band(sess.RunningAverageScore))
	if strongest.Topic != "" && strongest.Topic != weakest.Topic {
		fmt.Fprintf(&b, "The strongest area was %s (%.1f), the weakest %s (%.1f).",
			strongest.Topic, strongest.AverageScore, weakest.Topic, weakest.AverageScore)
	} else if strongest.Topic != "" {
		fmt.Fprintf(&b, "All answers fell under %s.", strongest.Topic)
	}
	return strings.TrimSpace(b.String())
}

func templatedRecommendations(sess *interview.Session, topics []interview.TopicScore) []string {
	var recommendations []string

	switch avg := sess.RunningAverageScore; {
	case avg >= 85:
		recommendations = append(recommendations, "Performance was strong across the board; focus preparation on company-specific topics.")
	case avg >= 70:
		recommendations = append(recommendations, "Solid overall performance; rehearse concise answers to push weaker topics over the line.")
	case avg >= 50:
		recommendations = append(recommendations, "Review the fundamentals of the weaker topics and practice answering out loud with concrete examples.")
	default:
		recommendations = append(recommendations, "Significant gaps remain; schedule focused study time for the core topics before interviewing again.")
	}

	_, weakest := extremes(topics)
	if weakest.Topic != "" && weakest.AverageScore < 60 {
		recommendations = append(recommendations, fmt.Sprintf("Prioritize %s: the average there was %.1f.", weakest.Topic, weakest.AverageScore))
	}
	return recommendations
}

func extremes(topics []interview.TopicScore) (strongest, weakest interview.TopicScore) {
	for i, topic := range topics {
		if i == 0 || topic.AverageScore > strongest.AverageScore {
			strongest = topic
		}
		if i == 0 || topic.AverageScore < weakest.AverageScore {
			weakest = topic
		}
	}
	return strongest, weakest
}

func band(score float64) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 75:
		return "good"
	case score >= 60:
		return "fair"
	default:
		return "needs work"
	}
}

func buildPrompt(sess *interview.Session, topics []interview.TopicScore) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Transcript:\n{{TRANSCRIPT}}\n\nTopic averages:\n{{TOPIC_SCORES}}\n\nOverall: {{OVERALL}}\n\nJSON report:"
	}

	prompt := strings.ReplaceAll(template, "{{TRANSCRIPT}}", renderTranscript(sess))
	prompt = strings.ReplaceAll(prompt, "{{TOPIC_SCORES}}", renderTopicScores(topics))
	prompt = strings.ReplaceAll(prompt, "{{OVERALL}}", fmt.Sprintf("%.1f", sess.RunningAverageScore))
	return prompt
}

func renderTranscript(sess *interview.Session) string {
	var b strings.Builder
	for i, turn := range sess.History {
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n   Score %.0f: %s\n\n", i+1, turn.QuestionText, turn.AnswerText, turn.Score, turn.FeedbackText)
	}
	return strings.TrimSpace(b.String())
}

func renderTopicScores(topics []interview.TopicScore) string {
	var b strings.Builder
	for _, topic := range topics {
		fmt.Fprintf(&b, "- %s: %.1f over %d question(s)\n", topic.Topic, topic.AverageScore, topic.Turns)
	}
	return strings.TrimSpace(b.String())
}
