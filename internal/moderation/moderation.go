// Package moderation classifies outgoing chat text before it is sent. The
// checks are deliberately simple substring and pattern matches; they run
// client-side of the store and never see peer messages.
package moderation

import (
	"regexp"
	"strings"
)

type Reason string

const (
	ReasonExplicit     Reason = "explicit"
	ReasonMinor        Reason = "minor"
	ReasonPersonalInfo Reason = "personal_info"
	// ReasonSpam is emitted by the session rate limiter, never by Check.
	ReasonSpam Reason = "spam"
)

// Result of moderating one message. Reason is set only when Allowed is false.
type Result struct {
	Allowed bool
	Reason  Reason
}

var explicitWords = []string{
	"nude", "nudes", "naked", "porn", "sex", "dick", "cock", "pussy",
	"boobs", "tits", "ass", "fuck", "blowjob", "handjob", "masturbat",
	"orgasm", "cum", "horny", "slut", "whore", "bitch",
}

var minorKeywords = []string{
	"underage", "minor", "child", "kid", "teen", "teenager",
	"young girl", "young boy", "little girl", "little boy",
	"12 year", "13 year", "14 year", "15 year", "16 year", "17 year",
}

var personalInfoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{10,}\b`),                                      // phone numbers
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), // emails
	regexp.MustCompile(`(?i)(?:https?://|www\.)\S+`),                       // URLs
	regexp.MustCompile(`@\w{2,}`),                                          // social handles
}

// Check classifies text. It is a pure function; order matters, first match
// wins: minor, then explicit, then personal info. Matching is naive
// substring containment on the lowercased text, so "kidney" trips "kid" —
// intentional, the lists err on the side of firing.
func Check(text string) Result {
	lower := strings.ToLower(text)

	for _, keyword := range minorKeywords {
		if strings.Contains(lower, keyword) {
			return Result{Reason: ReasonMinor}
		}
	}

	for _, word := range explicitWords {
		if strings.Contains(lower, word) {
			return Result{Reason: ReasonExplicit}
		}
	}

	for _, pattern := range personalInfoPatterns {
		if pattern.MatchString(text) {
			return Result{Reason: ReasonPersonalInfo}
		}
	}

	return Result{Allowed: true}
}

// WarningTooManyViolations ends the session after the third rejected message.
const WarningTooManyViolations = "⚠️ Too many violations. You have been disconnected."

// Warning returns the user-facing text for a rejection reason.
func Warning(reason Reason) string {
	switch reason {
	case ReasonMinor:
		return "⚠️ Any mention of minors is strictly prohibited. You have been disconnected."
	case ReasonExplicit:
		return "⚠️ Explicit sexual content is not allowed. Please keep it suggestive but non-graphic."
	case ReasonPersonalInfo:
		return "⚠️ Sharing personal information (emails, phone numbers, links, social handles) is not allowed."
	case ReasonSpam:
		return "⚠️ Please slow down. You're sending messages too quickly."
	default:
		return "⚠️ Message blocked."
	}
}
