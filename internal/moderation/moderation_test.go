package moderation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"emberchat/backend/internal/moderation"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		allowed bool
		reason  moderation.Reason
	}{
		{name: "plain text", text: "hello there", allowed: true},
		{name: "empty string", text: "", allowed: true},

		{name: "minor keyword", text: "I'm a teen", reason: moderation.ReasonMinor},
		{name: "minor age phrase", text: "she is 14 year old", reason: moderation.ReasonMinor},
		{name: "minor keyword uppercase", text: "UNDERAGE", reason: moderation.ReasonMinor},

		{name: "explicit word", text: "send nudes", reason: moderation.ReasonExplicit},
		{name: "explicit uppercase", text: "FUCK", reason: moderation.ReasonExplicit},
		{name: "explicit stem", text: "masturbating", reason: moderation.ReasonExplicit},

		{name: "phone number", text: "call me 12345678901", reason: moderation.ReasonPersonalInfo},
		{name: "email", text: "mail me at jane.doe@example.com", reason: moderation.ReasonPersonalInfo},
		{name: "url", text: "see https://example.com/x", reason: moderation.ReasonPersonalInfo},
		{name: "www url", text: "go to www.example.com", reason: moderation.ReasonPersonalInfo},
		{name: "uppercase url", text: "HTTPS://EXAMPLE.COM", reason: moderation.ReasonPersonalInfo},
		{name: "social handle", text: "find me @someone", reason: moderation.ReasonPersonalInfo},
		{name: "short handle allowed", text: "hi @a", allowed: true},
		{name: "nine digits allowed", text: "123456789", allowed: true},

		// Order matters: minor wins over explicit, explicit over patterns.
		{name: "minor beats explicit", text: "teen porn", reason: moderation.ReasonMinor},
		{name: "explicit beats personal info", text: "nudes at me@example.com", reason: moderation.ReasonExplicit},

		// Naive substring behaviour is intentional and preserved.
		{name: "kid inside kidney", text: "my kidney hurts", reason: moderation.ReasonMinor},
		{name: "ass inside class", text: "I was in class today", reason: moderation.ReasonExplicit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := moderation.Check(tt.text)
			assert.Equal(t, tt.allowed, res.Allowed)
			if !tt.allowed {
				assert.Equal(t, tt.reason, res.Reason)
			}
		})
	}
}

// TestCheckIsPure verifies the moderator is a pure total function: repeated
// calls on the same input always classify identically.
func TestCheckIsPure(t *testing.T) {
	inputs := []string{"hello", "send nudes", "I'm a teen", "me@example.com", ""}
	for _, input := range inputs {
		first := moderation.Check(input)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, moderation.Check(input), "input %q", input)
		}
	}
}

func TestWarningTexts(t *testing.T) {
	assert.Equal(t,
		"⚠️ Any mention of minors is strictly prohibited. You have been disconnected.",
		moderation.Warning(moderation.ReasonMinor))
	assert.Equal(t,
		"⚠️ Explicit sexual content is not allowed. Please keep it suggestive but non-graphic.",
		moderation.Warning(moderation.ReasonExplicit))
	assert.Equal(t,
		"⚠️ Sharing personal information (emails, phone numbers, links, social handles) is not allowed.",
		moderation.Warning(moderation.ReasonPersonalInfo))
	assert.Equal(t,
		"⚠️ Please slow down. You're sending messages too quickly.",
		moderation.Warning(moderation.ReasonSpam))
	assert.Equal(t,
		"⚠️ Too many violations. You have been disconnected.",
		moderation.WarningTooManyViolations)
}
