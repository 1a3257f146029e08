package orchestrator

import "strings"

// SelectorPolicy maps the selector's three provider roles to concrete
// profile ids. Injected so tests can run with alternate provider sets.
type SelectorPolicy struct {
	Code      string // code generation (robot mode, "código", "ntfl")
	Analysis  string // long structured analysis (daytrade, "análise técnica")
	Reasoning string // exploratory reasoning ("previsão", "tendência")
	Default   string // everything else
}

// SelectProvider picks exactly one provider id for a message. Pure and
// total: identical inputs always yield the same id, and some id is
// always returned. Rules are evaluated in priority order, first match
// wins; all content matches are case-insensitive.
func SelectProvider(message string, mode Mode, policy SelectorPolicy) string {
	lower := strings.ToLower(message)

	if mode == ModeRobot || strings.Contains(lower, "código") || strings.Contains(lower, "ntfl") {
		return policy.Code
	}
	if mode == ModeDaytrade || strings.Contains(lower, "análise técnica") {
		return policy.Analysis
	}
	if strings.Contains(lower, "previsão") || strings.Contains(lower, "tendência") {
		return policy.Reasoning
	}
	return policy.Default
}
