package planner

import (
	"strings"

	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/interview"
)

// refineStep is one normalization pass over drafted proposals.
type refineStep struct {
	name  string
	apply func([]proposal) []proposal
}

// stepResult describes the outcome of executing a refinement step.
type stepResult struct {
	Initial int
	Dropped int
	Left    int
}

// refine runs the drafted proposals through the normalization passes and logs
// what each pass kept and dropped.
func (p *Planner) refine(sess *interview.Session, proposals []proposal) []proposal {
	steps := []refineStep{
		{name: "drop_unusable", apply: dropUnusable},
		{name: "clamp_difficulty", apply: clampAll},
		{name: "trim_to_limit", apply: trimTo(sess.Settings.MaxQuestions)},
	}

	for _, step := range steps {
		info := stepResult{Initial: len(proposals)}
		proposals = step.apply(proposals)
		info.Left = len(proposals)
		info.Dropped = info.Initial - info.Left

		p.logger.Info("plan refinement step",
			zap.String("name", step.name),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)
	}
	return proposals
}

func dropUnusable(proposals []proposal) []proposal {
	kept := make([]proposal, 0, len(proposals))
	for _, prop := range proposals {
		if strings.TrimSpace(prop.Question) == "" {
			continue
		}
		kept = append(kept, prop)
	}
	return kept
}

func clampAll(proposals []proposal) []proposal {
	for i := range proposals {
		proposals[i] = clampProposal(proposals[i])
	}
	return proposals
}

// clampProposal bounds difficulty to the 1..5 scale, treating an unset value
// as mid-range, and tags topic-less questions as general.
func clampProposal(prop proposal) proposal {
	switch {
	case prop.Difficulty == 0:
		prop.Difficulty = 3
	case prop.Difficulty < 1:
		prop.Difficulty = 1
	case prop.Difficulty > 5:
		prop.Difficulty = 5
	}
	if prop.Topic == "" {
		prop.Topic = "general"
	}
	return prop
}

func trimTo(limit int) func([]proposal) []proposal {
	return func(proposals []proposal) []proposal {
		if limit > 0 && len(proposals) > limit {
			return proposals[:limit]
		}
		return proposals
	}
}
