package robots

import (
	"regexp"
	"strings"
)

type agentRules struct {
	allow    []string
	disallow []string
}

type ruleset struct {
	agents map[string]*agentRules
}

// parseRules handles the common robots.txt directives: user-agent
// grouping, allow/disallow with * wildcards and $ anchors. Unknown
// directives (crawl-delay, sitemap) are ignored.
func parseRules(robotsTxt string) *ruleset {
	rs := &ruleset{agents: map[string]*agentRules{}}
	currentAgents := []string{"*"}
	sawDirective := true

	for _, line := range strings.Split(robotsTxt, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		directive, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		directive = strings.ToLower(strings.TrimSpace(directive))
		value = strings.TrimSpace(value)

		switch directive {
		case "user-agent":
			// consecutive user-agent lines form one group
			if sawDirective {
				currentAgents = nil
				sawDirective = false
			}
			currentAgents = append(currentAgents, strings.ToLower(value))
		case "allow":
			sawDirective = true
			for _, agent := range currentAgents {
				rs.rulesFor(agent).allow = append(rs.rulesFor(agent).allow, value)
			}
		case "disallow":
			sawDirective = true
			for _, agent := range currentAgents {
				rs.rulesFor(agent).disallow = append(rs.rulesFor(agent).disallow, value)
			}
		default:
			sawDirective = true
		}
	}

	return rs
}

func (rs *ruleset) rulesFor(agent string) *agentRules {
	r, ok := rs.agents[agent]
	if !ok {
		r = &agentRules{}
		rs.agents[agent] = r
	}
	return r
}

func (rs *ruleset) isAllowed(userAgent, path string) bool {
	if rs.agents == nil {
		return true
	}

	rules := rs.matchAgent(userAgent)
	if rules == nil {
		return true
	}

	// allow rules take precedence over disallow
	for _, pattern := range rules.allow {
		if pathMatches(path, pattern) {
			return true
		}
	}
	for _, pattern := range rules.disallow {
		if pathMatches(path, pattern) {
			return false
		}
	}
	return true
}

func (rs *ruleset) matchAgent(userAgent string) *agentRules {
	ua := strings.ToLower(userAgent)
	for name, rules := range rs.agents {
		if name != "*" && strings.Contains(ua, name) {
			return rules
		}
	}
	return rs.agents["*"]
}

func pathMatches(path, pattern string) bool {
	if pattern == "" {
		return false
	}

	if strings.ContainsAny(pattern, "*$") {
		expr := regexp.QuoteMeta(pattern)
		expr = strings.ReplaceAll(expr, `\*`, ".*")
		if strings.HasSuffix(expr, `\$`) {
			expr = expr[:len(expr)-2] + "$"
		}
		matched, err := regexp.MatchString("^"+expr, path)
		return err == nil && matched
	}

	return strings.HasPrefix(path, pattern)
}
