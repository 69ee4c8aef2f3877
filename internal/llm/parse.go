package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ExtractJSON strips markdown code fences and stray backticks that models wrap
// around JSON payloads.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

// Unmarshal parses a model response into out. Responses frequently arrive
// fenced, with numbers quoted or scalars where lists are expected, so fences
// are stripped first and fields decode weakly typed. Absent fields leave the
// target untouched, letting callers detect them with pointer fields.
func Unmarshal(raw string, out any) error {
	var payload any
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &payload); err != nil {
		return fmt.Errorf("parsing model response: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(payload); err != nil {
		return fmt.Errorf("decoding model response: %w", err)
	}
	return nil
}
