package host

import (
	"path/filepath"
	"strings"
)

// Rule flags a process whose command line contains Substring, or whose
// executable is named Program. Matching is case-insensitive.
type Rule struct {
	Substring string
	Program   string
	Weight    float64
}

func (r Rule) matches(cmdline, program string) bool {
	if r.Program != "" && program == strings.ToLower(r.Program) {
		return true
	}
	return r.Substring != "" && strings.Contains(cmdline, strings.ToLower(r.Substring))
}

// DefaultRules has two tiers: interactive or socket-backed shells score 0.4,
// tools that are merely capable of relaying score 0.2.
func DefaultRules() []Rule {
	return []Rule{
		{Substring: "bash -i", Weight: 0.4},
		{Substring: "/dev/tcp/", Weight: 0.4},
		{Substring: "nc -e", Weight: 0.4},
		{Substring: "ncat -e", Weight: 0.4},
		{Substring: "socat exec", Weight: 0.4},
		{Program: "nc", Weight: 0.2},
		{Program: "ncat", Weight: 0.2},
		{Program: "socat", Weight: 0.2},
		{Substring: "reverse", Weight: 0.2},
		{Substring: "-m http.server", Weight: 0.2},
		{Substring: "-m simplehttpserver", Weight: 0.2},
	}
}

// SubstringRules turns configured patterns into rules of equal weight.
func SubstringRules(patterns []string, weight float64) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			rules = append(rules, Rule{Substring: p, Weight: weight})
		}
	}
	return rules
}

// processWeight returns the highest weight among the rules that match.
func processWeight(rules []Rule, cmdline string) float64 {
	cmdline = strings.ToLower(cmdline)
	var program string
	if fields := strings.Fields(cmdline); len(fields) > 0 {
		program = filepath.Base(fields[0])
	}
	var w float64
	for _, r := range rules {
		if r.Weight > w && r.matches(cmdline, program) {
			w = r.Weight
		}
	}
	return w
}
