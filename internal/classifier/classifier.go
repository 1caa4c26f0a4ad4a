// Package classifier tags inbound messages with a topic and decides whether a
// message or an assistant reply warrants human review. All functions are pure.
package classifier

import (
	"regexp"
	"strings"

	"student-helpdesk/internal/domain"
)

type topicRule struct {
	topic   domain.Topic
	pattern *regexp.Regexp
}

// Order matters: the first matching rule wins.
var topicRules = []topicRule{
	{topic: domain.TopicAdmission, pattern: regexp.MustCompile(`admission|apply|enroll|application`)},
	{topic: domain.TopicFees, pattern: regexp.MustCompile(`fee|tuition|payment|scholarship`)},
	{topic: domain.TopicExams, pattern: regexp.MustCompile(`exam|test|grade|result`)},
}

var escalationKeywords = []string{
	"complaint",
	"human",
	"issue",
	"talk to advisor",
}

var uncertaintyPhrases = []string{
	"i am not sure",
	"i do not know",
	"cannot help",
	"contact support",
	"unclear",
	"as an ai",
}

// ClassifyTopic maps text to exactly one topic, defaulting to general.
func ClassifyTopic(text string) domain.Topic {
	normalized := strings.ToLower(text)
	for _, rule := range topicRules {
		if rule.pattern.MatchString(normalized) {
			return rule.topic
		}
	}
	return domain.TopicGeneral
}

// Topics lists every topic ClassifyTopic can return.
func Topics() []domain.Topic {
	topics := make([]domain.Topic, 0, len(topicRules)+1)
	for _, rule := range topicRules {
		topics = append(topics, rule.topic)
	}
	return append(topics, domain.TopicGeneral)
}

// NeedsHumanKeyword reports whether the student explicitly asks for a person
// or raises a complaint.
func NeedsHumanKeyword(text string) bool {
	return containsAny(text, escalationKeywords)
}

// IsLowConfidence reports whether an assistant reply hedges or defers.
func IsLowConfidence(reply string) bool {
	return containsAny(reply, uncertaintyPhrases)
}

func containsAny(text string, needles []string) bool {
	normalized := strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(normalized, n) {
			return true
		}
	}
	return false
}
