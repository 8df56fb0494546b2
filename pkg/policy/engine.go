package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/aigrc/pipeline/pkg/events"
)

const (
	evalCostLimit      = 10000
	interruptFrequency = 100
)

// Finding records one rule match against one event.
type Finding struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Action   Action `json:"action"`
	EventID  string `json:"eventId"`
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	// OnFinding, when set, receives every match. Metrics hang off it.
	OnFinding func(Finding)
	Logger    *slog.Logger
}

// Engine holds the compiled form of one rule set. Compilation happens
// once at construction; a rule that does not compile stops startup
// rather than silently never matching.
type Engine struct {
	rules     []compiledRule
	onFinding func(Finding)
	logger    *slog.Logger
}

type compiledRule struct {
	rule Rule
	prg  cel.Program
}

// NewEngine compiles the active rules of the set.
func NewEngine(set *RuleSet, cfg EngineConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel environment: %w", err)
	}

	e := &Engine{onFinding: cfg.OnFinding, logger: logger}
	if set == nil {
		return e, nil
	}
	for _, r := range set.ActiveRules() {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy: rule %s: compile: %w", r.ID, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(interruptFrequency),
			cel.CostLimit(evalCostLimit),
		)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %s: program: %w", r.ID, err)
		}
		e.rules = append(e.rules, compiledRule{rule: r, prg: prg})
	}
	return e, nil
}

// RuleCount returns the number of compiled rules.
func (e *Engine) RuleCount() int {
	return len(e.rules)
}

// Evaluate runs every compiled rule against one accepted event and
// returns the matches in priority order. Rules observe, they never
// gate: a rule that errors at runtime or yields a non-bool is logged
// and skipped, and the event stands no matter what matches.
func (e *Engine) Evaluate(ctx context.Context, ev *events.Event) []Finding {
	if ev == nil || len(e.rules) == 0 {
		return nil
	}
	input, err := celInput(ev)
	if err != nil {
		e.logger.Warn("ingest rules skipped", "eventId", ev.ID, "error", err)
		return nil
	}

	var findings []Finding
	for _, cr := range e.rules {
		out, _, err := cr.prg.ContextEval(ctx, input)
		if err != nil {
			e.logger.Warn("ingest rule failed",
				"rule", cr.rule.ID, "eventId", ev.ID, "error", err)
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok {
			e.logger.Warn("ingest rule returned non-bool",
				"rule", cr.rule.ID, "eventId", ev.ID)
			continue
		}
		if !matched {
			continue
		}

		f := Finding{
			RuleID:   cr.rule.ID,
			RuleName: cr.rule.Name,
			Action:   cr.rule.Action,
			EventID:  ev.ID,
		}
		findings = append(findings, f)
		if cr.rule.Action == ActionEscalate {
			e.logger.Warn("ingest rule escalated event",
				"rule", cr.rule.ID, "eventId", ev.ID, "type", ev.Type)
		} else {
			e.logger.Info("ingest rule flagged event",
				"rule", cr.rule.ID, "eventId", ev.ID, "type", ev.Type)
		}
		if e.onFinding != nil {
			e.onFinding(f)
		}
	}
	return findings
}

// celInput presents the event to CEL under its wire field names, so
// rule authors write the same paths they see in the API.
func celInput(ev *events.Event) (map[string]any, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return map[string]any{"event": m}, nil
}
