package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zaebee/aura/internal/hive"
	"github.com/zaebee/aura/internal/logger"
)

// CompiledProgram is the self-tuned reasoner artifact: an optimized
// instruction plus few-shot demonstrations, produced by an offline tuning
// run and loaded here at startup.
type CompiledProgram struct {
	Instruction string `json:"instruction"`
	Demos       []Demo `json:"demos"`
}

// Demo is one few-shot example baked into the prompt.
type Demo struct {
	Context string  `json:"context"`
	Action  string  `json:"action"`
	Price   float64 `json:"price"`
	Message string  `json:"message"`
	Thought string  `json:"thought"`
}

// LoadCompiledProgram reads the artifact from path, then from data/<base>.
// A missing artifact is not an error: the reasoner runs untrained with just
// the base instruction.
func LoadCompiledProgram(path string) *CompiledProgram {
	for _, candidate := range []string{path, filepath.Join("data", filepath.Base(path))} {
		raw, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		var prog CompiledProgram
		if err := json.Unmarshal(raw, &prog); err != nil {
			logger.Warn("REASONER", fmt.Sprintf("compiled program %s unreadable: %v", candidate, err))
			continue
		}
		logger.Success("REASONER", fmt.Sprintf("Loaded compiled program %s (%d demos)", candidate, len(prog.Demos)))
		return &prog
	}
	logger.Warn("REASONER", fmt.Sprintf("No compiled program at %s, running untrained", path))
	return nil
}

// SelfTunedReasoner wraps the structured strategy with a compiled prompting
// program and a chain-of-thought style auxiliary thought field. On a
// response-parse failure it falls back to the rule strategy for that
// request.
type SelfTunedReasoner struct {
	llm         *ChatClient
	model       string
	temperature float64
	program     *CompiledProgram
	fallback    *RuleReasoner
}

// NewSelfTunedReasoner builds the self-tuned strategy.
func NewSelfTunedReasoner(llm *ChatClient, model string, temperature float64, program *CompiledProgram, fallback *RuleReasoner) *SelfTunedReasoner {
	return &SelfTunedReasoner{
		llm:         llm,
		model:       model,
		temperature: temperature,
		program:     program,
		fallback:    fallback,
	}
}

func (r *SelfTunedReasoner) Name() string {
	if r.program != nil {
		return "selftuned:" + r.model
	}
	return "selftuned-untrained:" + r.model
}

func (r *SelfTunedReasoner) Think(ctx context.Context, hc *hive.HiveContext) hive.Intent {
	if !hc.Item.Found() {
		return r.fallback.Think(ctx, hc)
	}

	model, temperature := r.model, r.temperature
	var constraints []string
	if hc.SystemHealth != nil && hc.SystemHealth.CPUPercent > highLoadCPUPercent {
		model, temperature = downgradeModel, downgradeTemperature
		constraints = append(constraints, highLoadConstraint)
	}

	instruction := ""
	if r.program != nil {
		instruction = r.program.Instruction
	}
	system := buildSystemPrompt(hc, constraints, instruction)
	if r.program != nil && len(r.program.Demos) > 0 {
		system += "\n\nExamples:\n" + renderDemos(r.program.Demos)
	}
	system += "\n\nReason step by step in the thought field before deciding."

	content, err := r.llm.Complete(ctx, model, temperature, system, buildUserPrompt(hc))
	if err != nil {
		logger.Warn("REASONER", fmt.Sprintf("llm call failed: %v", err))
		return hive.FailureIntent(err)
	}
	intent, err := parseIntent(content)
	if err != nil {
		logger.Warn("REASONER", fmt.Sprintf("llm response unparseable, using rule fallback: %v", err))
		return r.fallback.Think(ctx, hc)
	}
	return intent
}

func renderDemos(demos []Demo) string {
	var b strings.Builder
	for _, d := range demos {
		out, err := json.Marshal(map[string]interface{}{
			"action":  d.Action,
			"price":   d.Price,
			"message": d.Message,
			"thought": d.Thought,
		})
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "Input: %s\nOutput: %s\n", d.Context, out)
	}
	return b.String()
}
