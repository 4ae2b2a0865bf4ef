package bundle

import (
	"regexp"
	"sort"

	"github.com/sentinelcp/control-plane/internal/store"
)

var (
	blockRe   = regexp.MustCompile(`(?ms)^\s*(auth|authentication|authorization|tls|rate_limit)\s*\{(.*?)^\s*\}`)
	routeRe   = regexp.MustCompile(`(?m)^\s*route\s+"([^"]+)"`)
	upstreamRe = regexp.MustCompile(`(?m)^\s*upstream\s+"([^"]+)"`)
)

// riskAssessment is the result of comparing a new config source against
// the project's previous compiled bundle (spec.md §4.3 "Risk scoring").
type riskAssessment struct {
	Level   store.RiskLevel
	Reasons []string
}

// assessRisk implements the three-tier classification exactly as
// spec.md §4.3 defines it. previous is empty for a project's first
// compiled bundle, in which case any auth, tls or rate_limit block in
// next is compared against nothing and counts as changed.
func assessRisk(previous, next string) riskAssessment {
	reasons := map[string]bool{}

	for _, kind := range []string{"auth", "authentication", "authorization"} {
		if blockChanged(previous, next, kind) {
			reasons["auth_block_changed"] = true
		}
	}
	if blockChanged(previous, next, "tls") {
		reasons["tls_block_changed"] = true
	}
	if len(reasons) > 0 {
		return riskAssessment{Level: store.RiskHigh, Reasons: sortedKeys(reasons)}
	}

	mediumReasons := map[string]bool{}
	routeDelta := len(routeRe.FindAllStringSubmatch(next, -1)) - len(routeRe.FindAllStringSubmatch(previous, -1))
	if abs(routeDelta) > 10 {
		mediumReasons["route_count_changed"] = true
	}
	if removedUpstream(previous, next) {
		mediumReasons["upstream_removed"] = true
	}
	if blockChanged(previous, next, "rate_limit") {
		mediumReasons["rate_limit_block_changed"] = true
	}
	if len(mediumReasons) > 0 {
		return riskAssessment{Level: store.RiskMedium, Reasons: sortedKeys(mediumReasons)}
	}

	return riskAssessment{Level: store.RiskLow, Reasons: []string{}}
}

func blockChanged(previous, next, kind string) bool {
	return extractBlock(previous, kind) != extractBlock(next, kind)
}

func extractBlock(source, kind string) string {
	for _, m := range blockRe.FindAllStringSubmatch(source, -1) {
		if m[1] == kind {
			return m[2]
		}
	}
	return ""
}

func removedUpstream(previous, next string) bool {
	before := upstreamNames(previous)
	after := upstreamNames(next)
	for name := range before {
		if !after[name] {
			return true
		}
	}
	return false
}

func upstreamNames(source string) map[string]bool {
	names := map[string]bool{}
	for _, m := range upstreamRe.FindAllStringSubmatch(source, -1) {
		names[m[1]] = true
	}
	return names
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
