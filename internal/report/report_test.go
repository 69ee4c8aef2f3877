package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/interview"
	"github.com/vivacli/viva/internal/llm"
)

type completionResult struct {
	text string
	err  error
}

type fakeCompleter struct {
	queue   []completionResult
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ llm.Options) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if len(f.queue) == 0 {
		return "", errors.New("no scripted completion")
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next.text, next.err
}

func stubNow(t *testing.T) time.Time {
	t.Helper()

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	orig := now
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = orig })
	return fixed
}

func concludedSession() *interview.Session {
	sess := &interview.Session{
		ID:       "sess-report",
		Owner:    "sam",
		Status:   interview.StateReporting,
		Settings: interview.DefaultSettings(),
		Plan: []interview.QuestionSpec{
			{ID: "q1", OrderIndex: 0, Text: "Explain goroutines.", TopicTag: "go", Difficulty: 2},
			{ID: "q2", OrderIndex: 1, Text: "Explain indexes.", TopicTag: "sql", Difficulty: 3},
			{ID: "q3", OrderIndex: 2, Text: "Explain channels.", TopicTag: "go", Difficulty: 3},
		},
	}
	sess.AppendTurn(interview.Turn{QuestionID: "q1", QuestionText: "Explain goroutines.", AnswerText: "Lightweight threads.", Score: 80, FeedbackText: "good"})
	sess.AppendTurn(interview.Turn{QuestionID: "q2", QuestionText: "Explain indexes.", AnswerText: "They sort data.", Score: 40, FeedbackText: "vague"})
	sess.AppendTurn(interview.Turn{QuestionID: "q3", QuestionText: "Explain channels.", AnswerText: "Typed pipes between goroutines.", Score: 90, FeedbackText: "strong"})
	return sess
}

func TestSynthesizeAggregatesTopics(t *testing.T) {
	fixed := stubNow(t)

	s := New(nil, zap.NewNop(), 0)
	rep, err := s.Synthesize(context.Background(), concludedSession())
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}

	if rep.SessionID != "sess-report" {
		t.Errorf("session id = %q", rep.SessionID)
	}
	if rep.OverallScore != 70.0 {
		t.Errorf("overall = %v, want 70.0", rep.OverallScore)
	}
	if !rep.GeneratedAt.Equal(fixed) {
		t.Errorf("generated at = %v, want %v", rep.GeneratedAt, fixed)
	}

	if len(rep.PerTopicScores) != 2 {
		t.Fatalf("topic entries = %d, want 2", len(rep.PerTopicScores))
	}
	goTopic, sqlTopic := rep.PerTopicScores[0], rep.PerTopicScores[1]
	if goTopic.Topic != "go" || goTopic.AverageScore != 85 || goTopic.Turns != 2 {
		t.Errorf("go topic = %+v, want average 85 over 2", goTopic)
	}
	if sqlTopic.Topic != "sql" || sqlTopic.AverageScore != 40 || sqlTopic.Turns != 1 {
		t.Errorf("sql topic = %+v, want average 40 over 1", sqlTopic)
	}
}

func TestSynthesizeRequiresConcludedSessionWithTurns(t *testing.T) {
	t.Parallel()

	s := New(nil, zap.NewNop(), 0)

	running := concludedSession()
	running.Status = interview.StateAwaitingAnswer
	if _, err := s.Synthesize(context.Background(), running); !errors.Is(err, interview.ErrPrecondition) {
		t.Errorf("Synthesize() on a running session = %v, want ErrPrecondition", err)
	}

	empty := &interview.Session{ID: "empty", Status: interview.StateCompleted, Settings: interview.DefaultSettings()}
	if _, err := s.Synthesize(context.Background(), empty); !errors.Is(err, interview.ErrPrecondition) {
		t.Errorf("Synthesize() without turns = %v, want ErrPrecondition", err)
	}
}

func TestSynthesizeUsesModelNarrative(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{queue: []completionResult{
		{text: `{"summary": "A confident performance overall.", "recommendations": ["Practice SQL basics.", "Keep answers concrete."]}`},
	}}
	s := New(completer, zap.NewNop(), 0)

	rep, err := s.Synthesize(context.Background(), concludedSession())
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}

	if rep.SummaryText != "A confident performance overall." {
		t.Errorf("summary = %q", rep.SummaryText)
	}
	if len(rep.Recommendations) != 2 || rep.Recommendations[0] != "Practice SQL basics." {
		t.Errorf("recommendations = %v", rep.Recommendations)
	}

	prompt := completer.prompts[0]
	if !strings.Contains(prompt, "Explain goroutines.") || !strings.Contains(prompt, "Lightweight threads.") {
		t.Error("prompt misses the transcript")
	}
	if !strings.Contains(prompt, "70.0") {
		t.Error("prompt misses the overall score")
	}
}

func TestSynthesizeFallsBackToTemplateOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		queue []completionResult
	}{
		{name: "model error", queue: []completionResult{{err: errors.New("model down")}}},
		{name: "unparseable response", queue: []completionResult{{text: "the interview went fine"}}},
		{name: "empty summary", queue: []completionResult{{text: `{"summary": "", "recommendations": []}`}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New(&fakeCompleter{queue: tt.queue}, zap.NewNop(), 0)
			rep, err := s.Synthesize(context.Background(), concludedSession())
			if err != nil {
				t.Fatalf("Synthesize() error: %v", err)
			}

			if !strings.Contains(rep.SummaryText, "answered 3 questions") {
				t.Errorf("templated summary = %q", rep.SummaryText)
			}
			if len(rep.Recommendations) == 0 {
				t.Error("templated recommendations missing")
			}
		})
	}
}

func TestSynthesizeTemplateIsDeterministic(t *testing.T) {
	stubNow(t)

	s := New(nil, zap.NewNop(), 0)
	first, err := s.Synthesize(context.Background(), concludedSession())
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	second, err := s.Synthesize(context.Background(), concludedSession())
	if err != nil {
		t.Fatalf("second Synthesize() error: %v", err)
	}

	firstJSON, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	secondJSON, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(firstJSON) != string(secondJSON) {
		t.Errorf("templated reports differ:\n%s\n%s", firstJSON, secondJSON)
	}
}

func TestTemplatedSummaryNamesExtremes(t *testing.T) {
	t.Parallel()

	sess := concludedSession()
	summary := templatedSummary(sess, topicAverages(sess))
	if !strings.Contains(summary, "go") || !strings.Contains(summary, "sql") {
		t.Errorf("summary %q misses strongest and weakest topics", summary)
	}
}

func TestRenderAndExport(t *testing.T) {
	stubNow(t)

	sess := concludedSession()
	s := New(nil, zap.NewNop(), 0)
	rep, err := s.Synthesize(context.Background(), sess)
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}

	doc := Render(rep, sess)
	for _, want := range []string{
		"# Interview Report",
		"Candidate: sam",
		"| go | 85.0 | 2 |",
		"| sql | 40.0 | 1 |",
		"70.0 / 100",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("rendered report misses %q", want)
		}
	}

	dir := t.TempDir()
	path, err := Export(dir, rep, sess)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if !strings.HasSuffix(path, "viva-report-sess-report.md") {
		t.Errorf("export path = %q", path)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if string(written) != doc {
		t.Error("exported file differs from the rendered report")
	}
}
