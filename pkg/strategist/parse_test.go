package strategist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy_Valid(t *testing.T) {
	raw := `Here is my plan:
{"approach": "coordination", "description": "split the work", "roles": ["ResearchAI", "WriterAI"], "reasoning": "two phases"}`

	result := ParseStrategy(raw)
	require.Nil(t, result.Failure)
	assert.Equal(t, ApproachCoordination, result.Strategy.Approach)
	assert.Equal(t, []string{"ResearchAI", "WriterAI"}, result.Strategy.Roles)
	assert.Equal(t, "two phases", result.Strategy.Reasoning)
}

func TestParseStrategy_FallbackArm(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no json", "I think you should just do it yourself"},
		{"malformed json", `{"approach": "single", "roles":`},
		{"unknown approach", `{"approach": "swarm", "roles": ["A"]}`},
		{"missing roles", `{"approach": "single", "description": "x"}`},
		{"empty roles", `{"approach": "single", "roles": []}`},
		{"wrong types", `{"approach": 1, "roles": "GeneralAI"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseStrategy(tt.raw)
			require.NotNil(t, result.Failure)
			assert.Equal(t, FallbackStrategy(), result.Strategy)
		})
	}
}

func TestFallbackStrategy(t *testing.T) {
	fb := FallbackStrategy()
	assert.Equal(t, ApproachSingle, fb.Approach)
	assert.Equal(t, []string{"GeneralAI"}, fb.Roles)
	assert.Equal(t, "Fallback strategy.", fb.Description)
}

func TestParseEvaluation_Valid(t *testing.T) {
	raw := `{"successful": true, "reason": "all checks passed", "improvements": ["add retries"]}`

	result := ParseEvaluation(raw)
	require.Nil(t, result.Failure)
	assert.True(t, result.Evaluation.Successful)
	assert.Equal(t, "all checks passed", result.Evaluation.Reason)
	assert.Equal(t, []string{"add retries"}, result.Evaluation.Improvements)
}

func TestParseEvaluation_DefaultArm(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no json", "looks good to me"},
		{"missing successful", `{"reason": "fine"}`},
		{"wrong type", `{"successful": "yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseEvaluation(tt.raw)
			require.NotNil(t, result.Failure)
			assert.False(t, result.Evaluation.Successful)
			assert.Equal(t, "evaluation failed", result.Evaluation.Reason)
		})
	}
}

func TestDetectQuestion(t *testing.T) {
	payload, ok := detectQuestion(`{"question": "Which theme?", "options": ["Technical", "Casual"]}`)
	require.True(t, ok)
	assert.Equal(t, "Which theme?", payload.Question)
	assert.Equal(t, []string{"Technical", "Casual"}, payload.Options)

	_, ok = detectQuestion("just a plain answer")
	assert.False(t, ok)

	_, ok = detectQuestion(`{"answer": "42"}`)
	assert.False(t, ok)
}
