package robots

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRules(t *testing.T) {
	testCases := []struct {
		name      string
		robotsTxt string
		userAgent string
		path      string
		allowed   bool
	}{
		{
			name:      "plain disallow",
			robotsTxt: "User-agent: *\nDisallow: /private",
			userAgent: "datafetch",
			path:      "/private/data",
			allowed:   false,
		},
		{
			name:      "allow takes precedence",
			robotsTxt: "User-agent: *\nAllow: /private/reports\nDisallow: /private",
			userAgent: "datafetch",
			path:      "/private/reports",
			allowed:   true,
		},
		{
			name:      "unlisted path",
			robotsTxt: "User-agent: *\nDisallow: /private",
			userAgent: "datafetch",
			path:      "/public",
			allowed:   true,
		},
		{
			name:      "wildcard pattern",
			robotsTxt: "User-agent: *\nDisallow: /*.json",
			userAgent: "datafetch",
			path:      "/series/gdp.json",
			allowed:   false,
		},
		{
			name:      "anchored pattern only matches the end",
			robotsTxt: "User-agent: *\nDisallow: /data$",
			userAgent: "datafetch",
			path:      "/data/more",
			allowed:   true,
		},
		{
			name:      "anchored pattern matches exactly",
			robotsTxt: "User-agent: *\nDisallow: /data$",
			userAgent: "datafetch",
			path:      "/data",
			allowed:   false,
		},
		{
			name:      "specific agent overrides wildcard",
			robotsTxt: "User-agent: datafetch\nDisallow: /\n\nUser-agent: *\nDisallow:",
			userAgent: "datafetch/1.0",
			path:      "/anything",
			allowed:   false,
		},
		{
			name:      "grouped agents share rules",
			robotsTxt: "User-agent: alpha\nUser-agent: beta\nDisallow: /private",
			userAgent: "beta",
			path:      "/private",
			allowed:   false,
		},
		{
			name:      "comments are stripped",
			robotsTxt: "User-agent: * # everyone\nDisallow: /private # keep out",
			userAgent: "datafetch",
			path:      "/private",
			allowed:   false,
		},
		{
			name:      "empty disallow allows everything",
			robotsTxt: "User-agent: *\nDisallow:",
			userAgent: "datafetch",
			path:      "/anything",
			allowed:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rules := parseRules(tc.robotsTxt)
			require.Equal(t, tc.allowed, rules.isAllowed(tc.userAgent, tc.path))
		})
	}
}
