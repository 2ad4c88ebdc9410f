// Package reasoner implements the pluggable reasoning strategies behind the
// negotiation pipeline: deterministic rules, a structured LLM, and a
// self-tuned LLM driven by a compiled prompting program.
package reasoner

import (
	"github.com/zaebee/aura/internal/config"
	"github.com/zaebee/aura/internal/hive"
)

// New selects a strategy from config. Selection is a closed switch on
// llm.model: "rule", "dspy" (self-tuned), or any provider-qualified model id
// for the structured strategy.
func New(cfg *config.Config) hive.Reasoner {
	rule := NewRuleReasoner(cfg.Logic.TriggerPrice)
	switch cfg.LLM.Model {
	case "rule", "":
		return rule
	case "dspy":
		llm := NewChatClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
		program := LoadCompiledProgram(cfg.LLM.CompiledProgramPath)
		return NewSelfTunedReasoner(llm, selfTunedModel, cfg.LLM.Temperature, program, rule)
	default:
		llm := NewChatClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
		return NewStructuredReasoner(llm, cfg.LLM.Model, cfg.LLM.Temperature)
	}
}
