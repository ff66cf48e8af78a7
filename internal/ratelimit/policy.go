package ratelimit

import (
	"strings"
	"time"
)

// Rule is the limit applied to one class of endpoints
type Rule struct {
	Class  string
	Max    int
	Window time.Duration
}

// Policy maps request paths to rules
type Policy struct {
	Default     Rule
	Auth        Rule
	WebhookTest Rule
}

// DefaultPolicy allows 100 requests per minute, 5 for login attempts and 10
// for webhook test sends.
//
// This service issues no tokens and routes nothing under /auth/login. The
// auth class covers a login endpoint served by an external auth layer
// mounted on the same handler, which then shares these limits.
func DefaultPolicy() Policy {
	return Policy{
		Default:     Rule{Class: "default", Max: 100, Window: time.Minute},
		Auth:        Rule{Class: "auth", Max: 5, Window: time.Minute},
		WebhookTest: Rule{Class: "webhook_test", Max: 10, Window: time.Minute},
	}
}

// RuleFor classifies path
func (p Policy) RuleFor(path string) Rule {
	switch {
	case strings.Contains(path, "/auth/login"):
		return p.Auth
	case strings.Contains(path, "/webhooks") && strings.Contains(path, "/test"):
		return p.WebhookTest
	default:
		return p.Default
	}
}
