package classifier

import (
	"regexp"
	"strings"

	"github.com/dhcgn/spam-report/model"
)

var (
	urgencyWords = []string{"urgent", "immediately", "alert", "warning", "attention", "important"}

	suspiciousPhrases = []string{
		"verify your account", "verify your identity", "confirm your details",
		"click here", "sign up now", "limited time", "act now", "free gift",
		"been selected", "earn money", "winner", "you won", "credit card",
		"bank account", "password", "compromised",
	}

	legitimatePatterns = []string{
		"meeting scheduled", "appointment", "will be delivered", "your order",
		"invoice", "receipt", "reservation", "reminder:",
	}

	moneyRe   = regexp.MustCompile(`[$€£¥]\s?\d+|\d+\s?[$€£¥]`)
	allCapsRe = regexp.MustCompile(`\b[A-Z]{4,}\b`)
)

// ruleFeatures are keyword signals extracted from a body.
type ruleFeatures struct {
	urgency     bool
	punctuation bool
	suspicious  bool
	money       bool
	allCaps     bool
	legitimate  bool
}

func extractRuleFeatures(body string) ruleFeatures {
	lower := strings.ToLower(body)
	return ruleFeatures{
		urgency:     containsAny(lower, urgencyWords),
		punctuation: strings.Count(body, "!")+strings.Count(body, "?") > 2,
		suspicious:  containsAny(lower, suspiciousPhrases),
		money:       moneyRe.MatchString(body),
		allCaps:     allCapsRe.MatchString(body),
		legitimate:  containsAny(lower, legitimatePatterns),
	}
}

func (f ruleFeatures) score() int {
	score := 0
	if f.urgency && (f.suspicious || f.money) {
		score += 2
	}
	if f.punctuation && f.allCaps {
		score++
	}
	if f.money && f.suspicious {
		score += 2
	}
	if f.suspicious {
		score++
	}
	return score
}

// Rules is a keyword heuristic that needs no artifacts. It is meant for smoke
// runs, not for accuracy.
type Rules struct {
	// Threshold is the minimum score labelled Spam.
	Threshold int
}

func NewRules() *Rules {
	return &Rules{Threshold: 2}
}

func (r *Rules) Classify(body string) model.Label {
	f := extractRuleFeatures(body)
	if f.legitimate && !f.money && !f.suspicious {
		return model.NotSpam
	}
	return model.LabelFor(f.score() >= r.Threshold)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
