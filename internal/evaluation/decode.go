package evaluation

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kiranshivaraju/cvscreen/pkg/models"
)

var scoreSchema = jsonschema.MustCompileString("stage_score.json", `{
	"type": "object",
	"required": ["score", "feedback"],
	"properties": {
		"score": {"type": "number"},
		"feedback": {"type": "string"}
	}
}`)

// scoreRange bounds a stage's score. Decoded scores outside it are clamped;
// the fallback score of 0 is not.
type scoreRange struct {
	min, max float64
}

var (
	cvRange      = scoreRange{min: 0, max: 1}
	projectRange = scoreRange{min: 1, max: 5}
)

// decodeScore turns raw model output into a StageScore. It never fails: any
// parse or shape problem yields a zero score with a diagnostic as feedback.
func decodeScore(raw string, r scoreRange) (models.StageScore, bool) {
	cleaned := cleanJSON(raw)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return fallbackScore(fmt.Sprintf("model output was not valid JSON: %v", err)), false
	}
	if err := scoreSchema.Validate(doc); err != nil {
		return fallbackScore(fmt.Sprintf("model output did not match the expected shape: %v", err)), false
	}

	var s models.StageScore
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return fallbackScore(fmt.Sprintf("model output could not be decoded: %v", err)), false
	}
	s.Score = clamp(s.Score, r)
	return s, true
}

func fallbackScore(diagnostic string) models.StageScore {
	return models.StageScore{Score: 0, Feedback: diagnostic}
}

func clamp(v float64, r scoreRange) float64 {
	if v < r.min {
		return r.min
	}
	if v > r.max {
		return r.max
	}
	return v
}

// cleanJSON strips markdown code fences and cuts to the outermost object.
func cleanJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end != -1 && end > start {
		content = content[start : end+1]
	}
	return strings.TrimSpace(content)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
