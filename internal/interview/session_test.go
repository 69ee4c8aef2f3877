package interview

import (
	"testing"
	"time"
)

func planOf(specs ...QuestionSpec) []QuestionSpec {
	return specs
}

func spec(id string, order int, topic string) QuestionSpec {
	return QuestionSpec{ID: id, OrderIndex: order, Text: "question " + id, TopicTag: topic, Difficulty: 2}
}

func TestNextQuestionFollowsOrderIndex(t *testing.T) {
	t.Parallel()

	sess := &Session{
		// Plan order in the slice is deliberately shuffled.
		Plan: planOf(spec("q2", 1, "b"), spec("q1", 0, "a"), spec("q3", 2, "c")),
	}

	next := sess.NextQuestion()
	if next == nil || next.ID != "q1" {
		t.Fatalf("NextQuestion() = %+v, want q1", next)
	}

	sess.AppendTurn(Turn{QuestionID: "q1", Score: 80})
	next = sess.NextQuestion()
	if next == nil || next.ID != "q2" {
		t.Fatalf("NextQuestion() after q1 = %+v, want q2", next)
	}
}

func TestNextQuestionSkipsSkipped(t *testing.T) {
	t.Parallel()

	sess := &Session{Plan: planOf(spec("q1", 0, "a"), spec("q2", 1, "b"), spec("q3", 2, "c"))}
	sess.AppendTurn(Turn{QuestionID: "q1", Score: 90})
	if !sess.markSkipped("q2") {
		t.Fatal("markSkipped(q2) = false, want true")
	}

	next := sess.NextQuestion()
	if next == nil || next.ID != "q3" {
		t.Fatalf("NextQuestion() = %+v, want q3", next)
	}

	if sess.markSkipped("q2") {
		t.Error("markSkipped(q2) repeated = true, want false")
	}
	if sess.markSkipped("missing") {
		t.Error("markSkipped(missing) = true, want false")
	}
}

func TestNextQuestionNilWhenExhausted(t *testing.T) {
	t.Parallel()

	sess := &Session{Plan: planOf(spec("q1", 0, "a"), spec("q2", 1, "b"))}
	sess.AppendTurn(Turn{QuestionID: "q1", Score: 70})
	sess.markSkipped("q2")

	if next := sess.NextQuestion(); next != nil {
		t.Fatalf("NextQuestion() = %+v, want nil", next)
	}
}

func TestAppendTurnTracksIndexAndAverage(t *testing.T) {
	t.Parallel()

	sess := &Session{Plan: planOf(spec("q1", 0, "a"), spec("q2", 1, "b"), spec("q3", 2, "c"))}

	for i, score := range []float64{80, 40, 90} {
		sess.AppendTurn(Turn{QuestionID: sess.Plan[i].ID, Score: score})
		if sess.CurrentIndex != len(sess.History) {
			t.Fatalf("CurrentIndex = %d, want %d", sess.CurrentIndex, len(sess.History))
		}
	}

	if sess.CurrentIndex != 3 {
		t.Errorf("CurrentIndex = %d, want 3", sess.CurrentIndex)
	}
	if sess.RunningAverageScore != 70.0 {
		t.Errorf("RunningAverageScore = %v, want 70.0", sess.RunningAverageScore)
	}
}

func TestUncoveredTopics(t *testing.T) {
	t.Parallel()

	sess := &Session{Plan: planOf(
		spec("q1", 0, "go"),
		spec("q2", 1, "sql"),
		spec("q3", 2, "go"),
		spec("q4", 3, "networking"),
	)}
	sess.AppendTurn(Turn{QuestionID: "q1", Score: 60})
	sess.markSkipped("q4")

	got := sess.UncoveredTopics()
	want := []string{"sql", "go"}
	if len(got) != len(want) {
		t.Fatalf("UncoveredTopics() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("UncoveredTopics()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSpecByID(t *testing.T) {
	t.Parallel()

	sess := &Session{Plan: planOf(spec("q1", 0, "a"), spec("q2", 1, "b"))}
	if got := sess.SpecByID("q2"); got == nil || got.ID != "q2" {
		t.Fatalf("SpecByID(q2) = %+v", got)
	}
	if got := sess.SpecByID("nope"); got != nil {
		t.Fatalf("SpecByID(nope) = %+v, want nil", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	answer := "original"
	sess := &Session{
		ID:            "s1",
		Status:        StateAwaitingAnswer,
		Plan:          planOf(spec("q1", 0, "a")),
		History:       []Turn{{QuestionID: "q0", Score: 50}},
		PendingAnswer: &answer,
		FinalReport: &Report{
			SessionID:       "s1",
			PerTopicScores:  []TopicScore{{Topic: "a", AverageScore: 50, Turns: 1}},
			Recommendations: []string{"practice"},
			GeneratedAt:     time.Unix(1700000000, 0).UTC(),
		},
	}

	clone := sess.Clone()
	clone.Plan[0].Skipped = true
	clone.History[0].Score = 99
	*clone.PendingAnswer = "mutated"
	clone.FinalReport.PerTopicScores[0].AverageScore = 99
	clone.FinalReport.Recommendations[0] = "mutated"

	if sess.Plan[0].Skipped {
		t.Error("clone shares the plan slice")
	}
	if sess.History[0].Score != 50 {
		t.Error("clone shares the history slice")
	}
	if *sess.PendingAnswer != "original" {
		t.Error("clone shares the pending answer")
	}
	if sess.FinalReport.PerTopicScores[0].AverageScore != 50 {
		t.Error("clone shares the report topic scores")
	}
	if sess.FinalReport.Recommendations[0] != "practice" {
		t.Error("clone shares the report recommendations")
	}

	var nilSess *Session
	if nilSess.Clone() != nil {
		t.Error("Clone of nil session must be nil")
	}
}

func TestConcluded(t *testing.T) {
	t.Parallel()

	for _, state := range []State{StateCompleted, StateReporting, StateDone} {
		if !(&Session{Status: state}).Concluded() {
			t.Errorf("session in %s must be concluded", state)
		}
	}
	for _, state := range []State{StateSetup, StateAwaitingAnswer, StatePaused, StateFailed} {
		if (&Session{Status: state}).Concluded() {
			t.Errorf("session in %s must not be concluded", state)
		}
	}
}
