// Package ruler decides what happens to extracted alarms.
//
// Rules are CUE boolean expressions over the message fields timestamp,
// serial, trap_type, olt_name and ont_location. Enabled rules are tried in
// descending priority, then in configuration order; the first match names
// the action. When nothing matches the default action applies.
//
// Basic Usage:
//
//	r, err := ruler.New(map[string]any{
//		"enabled":        true,
//		"default_action": "publish",
//		"rules": []any{
//			map[string]any{
//				"name":   "ignore_discovery",
//				"expr":   `trap_type == "adGenGponOntDiscovered"`,
//				"action": "drop",
//			},
//			map[string]any{
//				"name":     "lab_olts",
//				"expr":     `strings.HasPrefix(olt_name, "LAB-")`,
//				"action":   "drop",
//				"priority": 10,
//			},
//		},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	decision := r.Evaluate(msg)
//	if decision.Action == ruler.ActionDrop {
//		return
//	}
//
// Expressions may use the CUE strings and regexp packages without importing
// them.
package ruler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/geekxflood/olttrap/trapextract"
)

// Actions a rule can take.
const (
	ActionPublish = "publish"
	ActionDrop    = "drop"
)

// messageFields are bound as identifiers in every expression.
var messageFields = []string{"timestamp", "serial", "trap_type", "olt_name", "ont_location"}

// builtinImports are added to an expression that references them.
var builtinImports = []string{"strings", "regexp"}

var (
	inputPath  = cue.ParsePath("input")
	resultPath = cue.ParsePath("result")
)

// Decision is the outcome of evaluating one message.
type Decision struct {
	Action string `json:"action"`
	// Rule names the matching rule; empty when the default action applied.
	Rule string `json:"rule,omitempty"`
}

// Stats counts evaluations since the ruler was created.
type Stats struct {
	Evaluations uint64 `json:"evaluations"`
	Matches     uint64 `json:"matches"`
	Drops       uint64 `json:"drops"`
}

// Rule is one routing rule as configured.
type Rule struct {
	Name     string `json:"name"`
	Expr     string `json:"expr"`
	Action   string `json:"action"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

type compiledRule struct {
	Rule
	compiled cue.Value
}

// Ruler evaluates routing rules. It is safe for concurrent use.
type Ruler struct {
	mu            sync.Mutex
	cueCtx        *cue.Context
	enabled       bool
	defaultAction string
	rules         []compiledRule
	stats         Stats
}

// New builds a ruler from a configuration map:
//
//	enabled         bool, default false
//	default_action  "publish" or "drop", default "publish"
//	rules           list of {name, expr, action ("drop"), priority (0), enabled (true)}
//
// A nil configuration yields a disabled ruler that publishes everything.
func New(configObj any) (*Ruler, error) {
	r := &Ruler{
		cueCtx:        cuecontext.New(),
		defaultAction: ActionPublish,
	}

	var cfg map[string]any
	switch v := configObj.(type) {
	case nil:
		return r, nil
	case map[string]any:
		cfg = v
	default:
		return nil, errors.New("configuration must be a map[string]any")
	}

	if v, ok := cfg["enabled"]; ok {
		enabled, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("enabled must be a boolean, got %T", v)
		}
		r.enabled = enabled
	}

	if v, ok := cfg["default_action"]; ok {
		action, ok := v.(string)
		if !ok || !validAction(action) {
			return nil, fmt.Errorf("default_action must be %q or %q, got %v", ActionPublish, ActionDrop, v)
		}
		r.defaultAction = action
	}

	rules, err := parseRules(cfg["rules"])
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	for _, rule := range rules {
		compiled, err := r.compile(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		r.rules = append(r.rules, compiledRule{Rule: rule, compiled: compiled})
	}
	sort.SliceStable(r.rules, func(i, j int) bool {
		return r.rules[i].Priority > r.rules[j].Priority
	})

	return r, nil
}

func validAction(action string) bool {
	return action == ActionPublish || action == ActionDrop
}

// parseRules reads the rules list, applying per-rule defaults.
func parseRules(raw any) ([]Rule, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("rules must be a list, got %T", raw)
	}

	seen := make(map[string]bool, len(list))
	rules := make([]Rule, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %d must be a map, got %T", i, item)
		}

		rule := Rule{Action: ActionDrop, Enabled: true}
		rule.Name, _ = m["name"].(string)
		rule.Expr, _ = m["expr"].(string)
		if rule.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("rule %d: duplicate name %q", i, rule.Name)
		}
		seen[rule.Name] = true
		if strings.TrimSpace(rule.Expr) == "" {
			return nil, fmt.Errorf("rule %s: expr is required", rule.Name)
		}

		if v, ok := m["action"]; ok {
			action, _ := v.(string)
			if !validAction(action) {
				return nil, fmt.Errorf("rule %s: action must be %q or %q, got %v", rule.Name, ActionPublish, ActionDrop, v)
			}
			rule.Action = action
		}
		if v, ok := m["enabled"]; ok {
			enabled, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("rule %s: enabled must be a boolean, got %T", rule.Name, v)
			}
			rule.Enabled = enabled
		}
		switch v := m["priority"].(type) {
		case nil:
		case int:
			rule.Priority = v
		case int64:
			rule.Priority = int(v)
		case float64:
			rule.Priority = int(v)
		default:
			return nil, fmt.Errorf("rule %s: priority must be a number, got %T", rule.Name, v)
		}

		rules = append(rules, rule)
	}
	return rules, nil
}

// compile wraps the expression in a struct that binds the message fields
// from input and exposes the outcome as result.
func (r *Ruler) compile(rule Rule) (cue.Value, error) {
	var b strings.Builder
	for _, pkg := range builtinImports {
		if strings.Contains(rule.Expr, pkg+".") {
			fmt.Fprintf(&b, "import %q\n", pkg)
		}
	}
	b.WriteString("input: {\n")
	for _, f := range messageFields {
		fmt.Fprintf(&b, "\t%s: string\n", f)
	}
	b.WriteString("}\n")
	for _, f := range messageFields {
		fmt.Fprintf(&b, "%s: input.%s\n", f, f)
	}
	fmt.Fprintf(&b, "result: %s\n", rule.Expr)

	compiled := r.cueCtx.CompileString(b.String(), cue.Filename(rule.Name))
	if err := compiled.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile expression %q: %w", rule.Expr, err)
	}
	return compiled, nil
}

// Evaluate returns the action for msg.
func (r *Ruler) Evaluate(msg trapextract.Message) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Evaluations++
	decision := Decision{Action: r.defaultAction}

	if r.enabled {
		input := r.cueCtx.Encode(msg)
		for i := range r.rules {
			rule := &r.rules[i]
			if rule.Enabled && matches(rule.compiled, input) {
				decision = Decision{Action: rule.Action, Rule: rule.Name}
				r.stats.Matches++
				break
			}
		}
	}

	if decision.Action == ActionDrop {
		r.stats.Drops++
	}
	return decision
}

// matches reports whether the expression evaluates to true. Errors and
// non-boolean results count as no match.
func matches(compiled, input cue.Value) bool {
	result := compiled.FillPath(inputPath, input).LookupPath(resultPath)
	b, err := result.Bool()
	return err == nil && b
}

// Enabled reports whether rules are evaluated.
func (r *Ruler) Enabled() bool {
	return r.enabled
}

// Rules returns the configured rules in evaluation order.
func (r *Ruler) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	for i, rule := range r.rules {
		out[i] = rule.Rule
	}
	return out
}

// Stats returns a snapshot of the counters.
func (r *Ruler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
