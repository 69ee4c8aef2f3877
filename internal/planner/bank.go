package planner

import (
	"sync"

	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed bank.yaml
var bankYAML []byte

type bankFile struct {
	Questions []bankQuestion `yaml:"questions"`
}

type bankQuestion struct {
	Text       string `yaml:"text"`
	Topic      string `yaml:"topic"`
	Difficulty int    `yaml:"difficulty"`
}

var (
	bankOnce      sync.Once
	bankQuestions []bankQuestion
)

// loadBank parses the embedded question bank once. The bank ships with the
// binary, so a parse failure simply yields an empty bank.
func loadBank() []bankQuestion {
	bankOnce.Do(func() {
		var file bankFile
		if err := yaml.Unmarshal(bankYAML, &file); err != nil {
			return
		}
		bankQuestions = file.Questions
	})
	return bankQuestions
}
