package ratelimit

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// KeyKind identifies which request attribute a rule keys on. Checks
// examine the kinds in priority order: API key, then user, then IP,
// then custom.
type KeyKind string

const (
	KeyAPIKey KeyKind = "api_key"
	KeyUserID KeyKind = "user_id"
	KeyIP     KeyKind = "ip"
	KeyCustom KeyKind = "custom"
)

// keyOrder is the fixed evaluation order of a Check call.
var keyOrder = [...]KeyKind{KeyAPIKey, KeyUserID, KeyIP, KeyCustom}

// Rule limits clients whose key matches Pattern. Among rules matching
// one key, the highest Priority wins; the rules list is scanned
// linearly.
type Rule struct {
	Name      string    `json:"name" yaml:"name"`
	Key       KeyKind   `json:"key" yaml:"key"`
	Algorithm Algorithm `json:"algorithm" yaml:"algorithm"`
	Params    Params    `json:"params" yaml:"params"`

	// Pattern matches the client key: exact, "prefix*", "*suffix", or
	// "*substr*". Empty matches every key; anything else is treated as
	// exact.
	Pattern string `json:"pattern" yaml:"pattern"`

	// Priority orders competing rules; higher wins.
	Priority int `json:"priority" yaml:"priority"`

	// Condition is an optional expression evaluated against the request
	// keys (ip, user, apiKey, custom, key); a rule with a false condition
	// is skipped. Compiled once at AddRule time.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	program *vm.Program
}

// conditionEnv is the evaluation environment of a rule condition.
type conditionEnv struct {
	IP     string `expr:"ip"`
	User   string `expr:"user"`
	APIKey string `expr:"apiKey"`
	Custom string `expr:"custom"`
	Key    string `expr:"key"`
}

// compile prepares the rule's condition program.
func (r *Rule) compile() error {
	if r.Condition == "" {
		return nil
	}
	program, err := expr.Compile(r.Condition, expr.Env(conditionEnv{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("rule %q: compiling condition: %w", r.Name, err)
	}
	r.program = program
	return nil
}

// applies reports whether the rule matches the key and its condition
// holds. Condition evaluation failures disable the rule for the call.
func (r *Rule) applies(key string, env conditionEnv) bool {
	if !matchPattern(r.Pattern, key) {
		return false
	}
	if r.program == nil {
		return true
	}
	env.Key = key
	out, err := expr.Run(r.program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// matchPattern implements the four supported pattern forms. Patterns
// with wildcards in other positions fall back to exact matching.
func matchPattern(pattern, key string) bool {
	switch {
	case pattern == "":
		return true
	case len(pattern) >= 2 && strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(key, pattern[1:len(pattern)-1])
	case strings.HasSuffix(pattern, "*") && !strings.Contains(pattern[:len(pattern)-1], "*"):
		return strings.HasPrefix(key, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*") && !strings.Contains(pattern[1:], "*"):
		return strings.HasSuffix(key, pattern[1:])
	default:
		return pattern == key
	}
}
