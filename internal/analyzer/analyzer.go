// Package analyzer scores candidate answers against the session's document
// context.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/interview"
	"github.com/vivacli/viva/internal/llm"
	"github.com/vivacli/viva/internal/rag"
	"github.com/vivacli/viva/internal/utils"
)

type completionClient interface {
	Complete(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	// historyWindow bounds how many earlier exchanges the scoring prompt
	// carries.
	historyWindow = 6
)

// Analyzer evaluates one answer at a time.
type Analyzer struct {
	client    completionClient
	logger    *zap.Logger
	maxLogLen int
}

func New(client completionClient, logger *zap.Logger, maxLogLength int) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Analyzer{
		client:    client,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// Analyze grounds the answer in the question's source chunks plus chunks
// retrieved for the answer text, asks the model for a verdict and validates
// it. A failed call is ErrServiceUnavailable, an unusable verdict is
// ErrAnalysisParse; the caller decides how to degrade.
func (a *Analyzer) Analyze(ctx context.Context, store *rag.Store, sess *interview.Session, spec interview.QuestionSpec, answer string) (interview.Evaluation, error) {
	chunks, err := a.collectContext(ctx, store, sess, spec, answer)
	if err != nil {
		return interview.Evaluation{}, fmt.Errorf("%w: retrieving answer context: %v", interview.ErrServiceUnavailable, err)
	}

	prompt := buildPrompt(spec, answer, chunks, sess.History)

	a.logger.Debug("analysis request",
		zap.String("question_id", spec.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, a.maxLogLen)),
	)

	raw, err := a.client.Complete(ctx, prompt, llm.Options{
		Model:       sess.Settings.ModelName,
		Temperature: sess.Settings.Temperature,
	})
	if err != nil {
		return interview.Evaluation{}, fmt.Errorf("%w: %v", interview.ErrServiceUnavailable, err)
	}

	a.logger.Debug("analysis response",
		zap.String("question_id", spec.ID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, a.maxLogLen)),
	)

	return parseEvaluation(raw)
}

// collectContext merges the chunks the question was drafted from with chunks
// retrieved for the answer, dropping duplicates. A nil store yields no
// context rather than an error.
func (a *Analyzer) collectContext(ctx context.Context, store *rag.Store, sess *interview.Session, spec interview.QuestionSpec, answer string) ([]rag.Chunk, error) {
	var chunks []rag.Chunk
	seen := make(map[string]bool)

	for _, id := range spec.SourceChunkIDs {
		chunk, ok := store.ChunkByID(id)
		if !ok || seen[chunk.ID] {
			continue
		}
		seen[chunk.ID] = true
		chunks = append(chunks, chunk)
	}

	retrieved, err := store.TopK(ctx, answer, sess.Settings.RagK)
	if err != nil {
		return nil, err
	}
	for _, chunk := range retrieved {
		if seen[chunk.ID] {
			continue
		}
		seen[chunk.ID] = true
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func parseEvaluation(raw string) (interview.Evaluation, error) {
	var verdict struct {
		Score      *float64 `json:"score"`
		Feedback   string   `json:"feedback"`
		Confidence *float64 `json:"confidence"`
	}
	if err := llm.Unmarshal(raw, &verdict); err != nil {
		return interview.Evaluation{}, fmt.Errorf("%w: %v", interview.ErrAnalysisParse, err)
	}

	if verdict.Score == nil {
		return interview.Evaluation{}, fmt.Errorf("%w: verdict has no score", interview.ErrAnalysisParse)
	}
	score := *verdict.Score
	if math.IsNaN(score) || score < 0 || score > 100 {
		return interview.Evaluation{}, fmt.Errorf("%w: score %v outside 0..100", interview.ErrAnalysisParse, score)
	}

	var confidence float64
	if verdict.Confidence != nil && !math.IsNaN(*verdict.Confidence) {
		confidence = *verdict.Confidence
	}
	switch {
	case confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}

	return interview.Evaluation{
		Score:      score,
		Feedback:   strings.TrimSpace(verdict.Feedback),
		Confidence: confidence,
	}, nil
}

func buildPrompt(spec interview.QuestionSpec, answer string, chunks []rag.Chunk, history []interview.Turn) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Question: {{QUESTION}}\nAnswer: {{ANSWER}}\nContext:\n{{CONTEXT}}\nHistory:\n{{HISTORY}}\nJSON verdict:"
	}

	prompt := strings.ReplaceAll(template, "{{QUESTION}}", spec.Text)
	prompt = strings.ReplaceAll(prompt, "{{TOPIC}}", spec.TopicTag)
	prompt = strings.ReplaceAll(prompt, "{{ANSWER}}", answer)
	prompt = strings.ReplaceAll(prompt, "{{CONTEXT}}", renderContext(chunks))
	prompt = strings.ReplaceAll(prompt, "{{HISTORY}}", renderHistory(history))
	return prompt
}

func renderContext(chunks []rag.Chunk) string {
	if len(chunks) == 0 {
		return "No document context is available."
	}

	var b strings.Builder
	for _, chunk := range chunks {
		fmt.Fprintf(&b, "[%s] %s\n\n", chunk.DocumentKind, strings.TrimSpace(chunk.Text))
	}
	return strings.TrimSpace(b.String())
}

func renderHistory(history []interview.Turn) string {
	if len(history) == 0 {
		return "This is the first question."
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n(scored %.0f)\n\n", turn.QuestionText, turn.AnswerText, turn.Score)
	}
	return strings.TrimSpace(b.String())
}
