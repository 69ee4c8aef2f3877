// Package planner drafts interview question plans from retrieved document
// context and adapts them between turns.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/interview"
	"github.com/vivacli/viva/internal/llm"
	"github.com/vivacli/viva/internal/rag"
	"github.com/vivacli/viva/internal/utils"
)

type completionClient interface {
	Complete(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

//go:embed plan.md
var planTemplate string

//go:embed followup.md
var followUpTemplate string

const (
	defaultMaxLogLength = 200
	// maxRedrafts bounds how often a duplicated topic is redrafted before
	// the duplicate is accepted.
	maxRedrafts = 3
)

// Planner turns retrieved job context into an ordered question plan.
type Planner struct {
	client    completionClient
	logger    *zap.Logger
	maxLogLen int
}

func New(client completionClient, logger *zap.Logger, maxLogLength int) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Planner{
		client:    client,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// proposal is one drafted question before it becomes a QuestionSpec.
type proposal struct {
	Question   string `json:"question"`
	Topic      string `json:"topic"`
	Difficulty int    `json:"difficulty"`
}

// Plan retrieves job context and drafts up to max_questions questions with
// distinct topics, ordered by difficulty. Failures of the language model are
// reported as ErrPlannerUnavailable.
func (p *Planner) Plan(ctx context.Context, store *rag.Store, sess *interview.Session) ([]interview.QuestionSpec, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}

	chunks, err := store.TopK(ctx, jobQuery(sess), sess.Settings.RagK)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieving job context: %v", interview.ErrPlannerUnavailable, err)
	}

	raw, err := p.complete(ctx, sess, renderPlanPrompt(chunks, sess.Settings.MaxQuestions, nil), "draft")
	if err != nil {
		return nil, fmt.Errorf("%w: drafting questions: %v", interview.ErrPlannerUnavailable, err)
	}

	proposals, err := parseProposals(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interview.ErrPlannerUnavailable, err)
	}

	proposals = p.refine(sess, proposals)
	proposals = p.dedupe(ctx, sess, chunks, proposals)

	sort.SliceStable(proposals, func(i, j int) bool {
		return proposals[i].Difficulty < proposals[j].Difficulty
	})

	sources := chunkIDs(chunks)
	specs := make([]interview.QuestionSpec, len(proposals))
	for i, prop := range proposals {
		specs[i] = interview.QuestionSpec{
			ID:             uuid.NewString(),
			OrderIndex:     i,
			Text:           prop.Question,
			TopicTag:       prop.Topic,
			Difficulty:     prop.Difficulty,
			SourceChunkIDs: sources,
		}
	}
	return specs, nil
}

// Adapt applies the between-turn policy: end early when the candidate is
// clearly strong, probe deeper when the last answer was weak, otherwise leave
// the plan alone.
func (p *Planner) Adapt(ctx context.Context, store *rag.Store, sess *interview.Session, last interview.Turn) (interview.Adaptation, error) {
	settings := sess.Settings

	if len(sess.History) >= settings.EarlyExitMinTurns &&
		sess.RunningAverageScore >= settings.EarlyExitAverage &&
		sess.NextQuestion() != nil {
		p.logger.Debug("early termination policy satisfied",
			zap.Float64("running_average", sess.RunningAverageScore),
			zap.Float64("threshold", settings.EarlyExitAverage),
		)
		return interview.Adaptation{SkipNext: true}, nil
	}

	if last.Score < settings.FollowUpThreshold && len(sess.History) < settings.MaxQuestions {
		parent := sess.SpecByID(last.QuestionID)
		if parent != nil && len(sess.UncoveredTopics()) > 0 {
			followUp, err := p.draftFollowUp(ctx, store, sess, *parent, last)
			if err != nil {
				return interview.Adaptation{}, err
			}
			return interview.Adaptation{FollowUp: followUp}, nil
		}
	}

	return interview.Adaptation{}, nil
}

// Fallback returns the embedded question bank, already ordered by difficulty.
func (p *Planner) Fallback(maxQuestions int) []interview.QuestionSpec {
	questions := loadBank()
	if maxQuestions > 0 && len(questions) > maxQuestions {
		questions = questions[:maxQuestions]
	}

	specs := make([]interview.QuestionSpec, len(questions))
	for i, q := range questions {
		specs[i] = interview.QuestionSpec{
			ID:         uuid.NewString(),
			OrderIndex: i,
			Text:       q.Text,
			TopicTag:   q.Topic,
			Difficulty: q.Difficulty,
		}
	}
	return specs
}

// dedupe enforces distinct topic tags. A duplicated topic is redrafted up to
// maxRedrafts times with the already used topics excluded; if the model keeps
// returning duplicates or is unavailable, the duplicate is kept.
func (p *Planner) dedupe(ctx context.Context, sess *interview.Session, chunks []rag.Chunk, proposals []proposal) []proposal {
	seen := make(map[string]bool, len(proposals))

	for i := range proposals {
		topic := proposals[i].Topic
		if topic == "" || !seen[topic] {
			seen[topic] = true
			continue
		}

		replaced := false
		for attempt := 1; attempt <= maxRedrafts; attempt++ {
			replacement, err := p.redraft(ctx, sess, chunks, topicsOf(seen))
			if err != nil {
				p.logger.Warn("redraft attempt failed",
					zap.String("topic", topic),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				break
			}
			if replacement.Topic != "" && !seen[replacement.Topic] {
				proposals[i] = replacement
				seen[replacement.Topic] = true
				replaced = true
				break
			}
		}
		if !replaced {
			p.logger.Info("keeping duplicated topic after redrafts", zap.String("topic", topic))
		}
	}
	return proposals
}

func (p *Planner) redraft(ctx context.Context, sess *interview.Session, chunks []rag.Chunk, excluded []string) (proposal, error) {
	raw, err := p.complete(ctx, sess, renderPlanPrompt(chunks, 1, excluded), "redraft")
	if err != nil {
		return proposal{}, err
	}

	proposals, err := parseProposals(raw)
	if err != nil {
		return proposal{}, err
	}
	if len(proposals) == 0 {
		return proposal{}, fmt.Errorf("redraft returned no question")
	}

	redrafted := clampProposal(proposals[0])
	if redrafted.Question == "" {
		return proposal{}, fmt.Errorf("redraft returned an empty question")
	}
	return redrafted, nil
}

func (p *Planner) draftFollowUp(ctx context.Context, store *rag.Store, sess *interview.Session, parent interview.QuestionSpec, last interview.Turn) (*interview.QuestionSpec, error) {
	chunks, err := store.TopK(ctx, last.AnswerText, sess.Settings.RagK)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieving follow-up context: %v", interview.ErrPlannerUnavailable, err)
	}

	prompt := renderFollowUpPrompt(parent, last, chunks)
	raw, err := p.complete(ctx, sess, prompt, "follow-up")
	if err != nil {
		return nil, fmt.Errorf("%w: drafting follow-up: %v", interview.ErrPlannerUnavailable, err)
	}

	text := parseFollowUp(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: follow-up response had no question", interview.ErrPlannerUnavailable)
	}

	return &interview.QuestionSpec{
		ID:             uuid.NewString(),
		Text:           text,
		TopicTag:       parent.TopicTag,
		Difficulty:     parent.Difficulty,
		SourceChunkIDs: append([]string(nil), parent.SourceChunkIDs...),
	}, nil
}

func (p *Planner) complete(ctx context.Context, sess *interview.Session, prompt, purpose string) (string, error) {
	p.logger.Debug("planner request",
		zap.String("purpose", purpose),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, p.maxLogLen)),
	)

	raw, err := p.client.Complete(ctx, prompt, llm.Options{
		Model:       sess.Settings.ModelName,
		Temperature: sess.Settings.Temperature,
	})
	if err != nil {
		return "", err
	}

	p.logger.Debug("planner response",
		zap.String("purpose", purpose),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, p.maxLogLen)),
	)
	return raw, nil
}

func parseProposals(raw string) ([]proposal, error) {
	var proposals []proposal
	if err := llm.Unmarshal(raw, &proposals); err != nil {
		return nil, fmt.Errorf("parsing question list: %w", err)
	}

	for i := range proposals {
		proposals[i].Question = strings.TrimSpace(proposals[i].Question)
		proposals[i].Topic = normalizeTopic(proposals[i].Topic)
	}
	return proposals, nil
}

func parseFollowUp(raw string) string {
	var item struct {
		Question string `json:"question"`
	}
	if err := llm.Unmarshal(raw, &item); err != nil {
		// Some models answer a single question in plain text.
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(item.Question)
}

func renderPlanPrompt(chunks []rag.Chunk, count int, excluded []string) string {
	template := planTemplate
	if strings.TrimSpace(template) == "" {
		template = "Context:\n{{CONTEXT}}\n\nDraft {{QUESTION_COUNT}} interview questions, excluded topics: {{EXCLUDED_TOPICS}}.\nJSON array response:"
	}

	excludedText := "none"
	if len(excluded) > 0 {
		excludedText = strings.Join(excluded, ", ")
	}

	prompt := strings.ReplaceAll(template, "{{CONTEXT}}", renderContext(chunks))
	prompt = strings.ReplaceAll(prompt, "{{QUESTION_COUNT}}", strconv.Itoa(count))
	prompt = strings.ReplaceAll(prompt, "{{EXCLUDED_TOPICS}}", excludedText)
	return prompt
}

func renderFollowUpPrompt(parent interview.QuestionSpec, last interview.Turn, chunks []rag.Chunk) string {
	template := followUpTemplate
	if strings.TrimSpace(template) == "" {
		template = "Question: {{QUESTION}}\nAnswer: {{ANSWER}}\nFeedback: {{FEEDBACK}}\nContext:\n{{CONTEXT}}\n\nDraft one follow-up question as JSON:"
	}

	prompt := strings.ReplaceAll(template, "{{QUESTION}}", parent.Text)
	prompt = strings.ReplaceAll(prompt, "{{ANSWER}}", last.AnswerText)
	prompt = strings.ReplaceAll(prompt, "{{FEEDBACK}}", last.FeedbackText)
	prompt = strings.ReplaceAll(prompt, "{{TOPIC}}", parent.TopicTag)
	prompt = strings.ReplaceAll(prompt, "{{CONTEXT}}", renderContext(chunks))
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

func jobQuery(sess *interview.Session) string {
	var parts []string
	for _, doc := range sess.Documents {
		if doc.Kind == rag.KindJobDescription {
			parts = append(parts, doc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func chunkIDs(chunks []rag.Chunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return ids
}

func topicsOf(seen map[string]bool) []string {
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	return topics
}

func normalizeTopic(topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	return strings.ReplaceAll(topic, " ", "_")
}
