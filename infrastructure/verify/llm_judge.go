// Package verify implements the verification collaborator as an
// LLM-as-judge: each candidate is scored against the question and its
// retrieved context, producing faithfulness and relevancy in [0,1] from a
// JSON-constrained prompt.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-crucible/internal/domain"
	"github.com/ahrav/go-crucible/internal/ports"
)

// Defaults for the judge configuration.
const (
	DefaultJudgeMaxTokens   = 512
	DefaultJudgeTemperature = 0.0
)

// Sentinel errors for testable failure conditions.
var (
	ErrGeneratorNil    = errors.New("generator cannot be nil")
	ErrNoJSONInOutput  = errors.New("no valid JSON found in judge output")
	ErrScoreOutOfRange = errors.New("judge score outside [0,1]")
)

// defaultPromptTemplate asks for the two sub-scores as strict JSON. The
// judge runs at temperature 0 so repeated verifications of the same
// candidate stay consistent.
const defaultPromptTemplate = `You are evaluating an answer to a question using only the provided context.

Question: {{.Question}}

Context:
{{.Context}}

Answer to evaluate:
{{.Candidate}}

Score two dimensions, each between 0.0 and 1.0:
- faithfulness: is every claim in the answer supported by the context?
- relevancy: does the answer actually address the question?

Respond with ONLY this JSON: {"faithfulness": <0.0-1.0>, "relevancy": <0.0-1.0>, "reasoning": "<one or two sentences>"}`

// Config defines the judge's tunable parameters.
type Config struct {
	// PromptTemplate is the Go template the judge prompt is built from.
	// It should use {{.Question}}, {{.Candidate}}, and {{.Context}}.
	PromptTemplate string `yaml:"prompt_template" json:"prompt_template" validate:"required,min=20"`

	// Temperature controls judge randomness; 0.0 keeps scoring consistent.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0.0,max=1.0"`

	// MaxTokens limits the judge's reasoning length.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"required,min=50,max=2000"`
}

// DefaultConfig returns a Config with the built-in prompt and defaults.
func DefaultConfig() Config {
	return Config{
		PromptTemplate: defaultPromptTemplate,
		Temperature:    DefaultJudgeTemperature,
		MaxTokens:      DefaultJudgeMaxTokens,
	}
}

// judgeResponse is the JSON shape the judge must return. Validation rejects
// out-of-range or missing fields so malformed output becomes a typed
// failure rather than a bogus score.
type judgeResponse struct {
	Faithfulness float64 `json:"faithfulness" validate:"min=0.0,max=1.0"`
	Relevancy    float64 `json:"relevancy" validate:"min=0.0,max=1.0"`
	Reasoning    string  `json:"reasoning"`
}

// LLMJudge scores candidates through a generation client. It is stateless
// and safe for concurrent use by multiple verification workers.
type LLMJudge struct {
	config         Config
	generator      ports.Generator
	validator      *validator.Validate
	promptTemplate *template.Template
	tracer         trace.Tracer
}

var _ ports.Verifier = (*LLMJudge)(nil)

// NewLLMJudge builds a judge over the given generator. Returns an error if
// the configuration or prompt template is invalid.
func NewLLMJudge(generator ports.Generator, config Config) (*LLMJudge, error) {
	if generator == nil {
		return nil, ErrGeneratorNil
	}

	v := validator.New()
	if err := v.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	tmpl, err := template.New("judgePrompt").Parse(config.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse judge prompt template: %w", err)
	}

	return &LLMJudge{
		config:         config,
		generator:      generator,
		validator:      v,
		promptTemplate: tmpl,
		tracer:         otel.Tracer("crucible/verify"),
	}, nil
}

// Verify scores one candidate. Callers impose the external-call timeout
// through ctx; a failure here is converted upstream into a zero-score
// placeholder record, never a dropped event.
func (j *LLMJudge) Verify(ctx context.Context, question, candidate, retrievedContext string) (ports.VerificationScores, error) {
	ctx, span := j.tracer.Start(ctx, "verify.judge",
		trace.WithAttributes(
			attribute.Int("eval.candidate_length", len(candidate)),
			attribute.Int("eval.context_length", len(retrievedContext)),
		),
	)
	defer span.End()

	var promptBuf bytes.Buffer
	err := j.promptTemplate.Execute(&promptBuf, struct {
		Question, Candidate, Context string
	}{Question: question, Candidate: candidate, Context: retrievedContext})
	if err != nil {
		span.RecordError(err)
		return ports.VerificationScores{}, fmt.Errorf("failed to execute judge prompt template: %w", err)
	}

	gen, err := j.generator.Generate(ctx, promptBuf.String(), domain.SamplingParams{
		Label:       "judge",
		Temperature: j.config.Temperature,
		MaxTokens:   j.config.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ports.VerificationScores{}, fmt.Errorf("judge call failed: %w", err)
	}

	scores, err := j.parseResponse(gen.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ports.VerificationScores{}, err
	}

	span.SetAttributes(
		attribute.Float64("eval.faithfulness", scores.Faithfulness),
		attribute.Float64("eval.relevancy", scores.Relevancy),
	)
	return scores, nil
}

// parseResponse extracts and validates the judge's JSON output.
func (j *LLMJudge) parseResponse(response string) (ports.VerificationScores, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return ports.VerificationScores{}, fmt.Errorf("%w (response length: %d chars)",
			ErrNoJSONInOutput, len(response))
	}

	var parsed judgeResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return ports.VerificationScores{}, fmt.Errorf("failed to parse judge JSON: %w", err)
	}

	if err := j.validator.Struct(parsed); err != nil {
		return ports.VerificationScores{}, fmt.Errorf("%w: faithfulness=%.3f relevancy=%.3f: %v",
			ErrScoreOutOfRange, parsed.Faithfulness, parsed.Relevancy, err)
	}

	return ports.VerificationScores{
		Faithfulness: parsed.Faithfulness,
		Relevancy:    parsed.Relevancy,
	}, nil
}

// extractJSON pulls a JSON object out of judge output that may wrap it in
// markdown fences or surrounding prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	// Walk to the matching close brace, skipping braces inside strings.
	braceCount := 0
	inString := false
	escapeNext := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		switch c {
		case '\\':
			escapeNext = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				braceCount++
			}
		case '}':
			if !inString {
				braceCount--
				if braceCount == 0 {
					return response[start : i+1]
				}
			}
		}
	}
	return ""
}
