package classify

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"fabingest/internal/config"
	"fabingest/internal/logging"
	"fabingest/internal/services"
)

// Rule routes filenames matching Pattern into Destination. Order is the rule's
// position in configuration; lower orders are evaluated first.
type Rule struct {
	Pattern     string
	Destination string
	Order       int

	re *regexp.Regexp
}

// Matches reports whether the rule's pattern matches name. Only the base name
// is ever passed in.
func (r Rule) Matches(name string) bool {
	return r.re != nil && r.re.MatchString(name)
}

func (r Rule) String() string {
	return r.Pattern + " " + config.RuleSeparator + " " + r.Destination
}

// ParseRule parses "<regex> -> <destination>". Both sides are trimmed.
func ParseRule(entry string, order int) (Rule, error) {
	pattern, dest, ok := strings.Cut(entry, config.RuleSeparator)
	if !ok {
		return Rule{}, services.Wrap(services.ErrConfiguration, "classify", "parse rule",
			fmt.Sprintf("missing %q separator in %q", config.RuleSeparator, entry), nil)
	}
	pattern = strings.TrimSpace(pattern)
	dest = strings.TrimSpace(dest)
	if pattern == "" || dest == "" {
		return Rule{}, services.Wrap(services.ErrConfiguration, "classify", "parse rule",
			fmt.Sprintf("empty pattern or destination in %q", entry), nil)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, services.Wrap(services.ErrConfiguration, "classify", "compile pattern", pattern, err)
	}
	return Rule{Pattern: pattern, Destination: filepath.Clean(dest), Order: order, re: re}, nil
}

// ParseRules parses entries in order. Invalid entries are logged and skipped;
// the order of the remaining rules is preserved.
func ParseRules(entries []string, logger *slog.Logger) []Rule {
	rules := make([]Rule, 0, len(entries))
	for i, entry := range entries {
		rule, err := ParseRule(entry, i)
		if err != nil {
			logging.WarnWithContext(logger, "classification rule skipped", "rule_invalid",
				logging.String(logging.FieldRule, entry),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "use '<regex> -> <folder>' in classify.rules"),
				logging.String(logging.FieldImpact, "files this rule would match are not classified"),
			)
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}
