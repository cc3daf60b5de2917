package strategist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ParseError reports why a model response could not be read as a
// strategy or evaluation. Non-fatal: callers take the fallback arm.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StrategyParseResult is a tagged variant: Failure == nil means Strategy
// holds the parsed value; otherwise Strategy holds the deterministic
// fallback arm.
type StrategyParseResult struct {
	Strategy Strategy
	Failure  *ParseError
}

// EvaluationParseResult mirrors StrategyParseResult for evaluations,
// with the failed-evaluation default as the fallback arm.
type EvaluationParseResult struct {
	Evaluation Evaluation
	Failure    *ParseError
}

const strategySchemaJSON = `{
	"type": "object",
	"required": ["approach", "roles"],
	"properties": {
		"approach": {"type": "string", "enum": ["single", "coordination", "specialized"]},
		"description": {"type": "string"},
		"roles": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"reasoning": {"type": "string"}
	}
}`

const evaluationSchemaJSON = `{
	"type": "object",
	"required": ["successful"],
	"properties": {
		"successful": {"type": "boolean"},
		"reason": {"type": "string"},
		"improvements": {"type": "array", "items": {"type": "string"}}
	}
}`

var (
	strategySchema   *gojsonschema.Schema
	evaluationSchema *gojsonschema.Schema
)

func init() {
	var err error
	strategySchema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(strategySchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid strategy schema: %v", err))
	}
	evaluationSchema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(evaluationSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid evaluation schema: %v", err))
	}
}

// extractJSON pulls the first top-level JSON object out of free-form
// model output. Responses often wrap the object in prose or fences.
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return raw[start : end+1], nil
}

func validate(schema *gojsonschema.Schema, doc string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return err
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("schema violation: %s", strings.Join(details, "; "))
	}
	return nil
}

// ParseStrategy reads a model response into a Strategy. On any failure
// the result carries the fallback strategy and a non-nil Failure.
func ParseStrategy(raw string) StrategyParseResult {
	fail := func(err error) StrategyParseResult {
		return StrategyParseResult{
			Strategy: FallbackStrategy(),
			Failure:  &ParseError{Raw: raw, Err: err},
		}
	}

	doc, err := extractJSON(raw)
	if err != nil {
		return fail(err)
	}
	if err := validate(strategySchema, doc); err != nil {
		return fail(err)
	}

	var s Strategy
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return fail(err)
	}

	return StrategyParseResult{Strategy: s}
}

// ParseEvaluation reads a model response into an Evaluation. On any
// failure the result carries the failed-evaluation default and a
// non-nil Failure.
func ParseEvaluation(raw string) EvaluationParseResult {
	fail := func(err error) EvaluationParseResult {
		return EvaluationParseResult{
			Evaluation: FailedEvaluation(),
			Failure:    &ParseError{Raw: raw, Err: err},
		}
	}

	doc, err := extractJSON(raw)
	if err != nil {
		return fail(err)
	}
	if err := validate(evaluationSchema, doc); err != nil {
		return fail(err)
	}

	var e Evaluation
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return fail(err)
	}

	return EvaluationParseResult{Evaluation: e}
}
