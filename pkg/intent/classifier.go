// Package intent classifies inbound messages into a closed intent enum and
// extracts lexical entities. The core path is fully deterministic: regex
// tables plus context boosts, no model calls.
package intent

import (
	"regexp"
	"strings"

	"github.com/forgemcp/concierge/pkg/models"
)

const (
	baseScore    = 0.7
	contextBoost = 0.2

	// Fallback confidences when no regex fires.
	clarificationAfterAssistant = 0.6
	clarificationShortMessage   = 0.5
	unknownConfidence           = 0.3

	shortMessageTokens = 5
)

// Result is a classification outcome: the winning intent, its confidence
// in [0,1], and metadata (always includes the entity map).
type Result struct {
	Intent     models.IntentType `json:"intent"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]any    `json:"metadata"`
}

// Regex families per intent, evaluated against the normalized message.
// A hit yields baseScore; ties between intents break in models.IntentOrder.
var intentPatterns = map[models.IntentType][]*regexp.Regexp{
	models.IntentProjectCreate: {
		// Up to two qualifier words may sit between the verb and the noun
		// ("create a new web application", "build a small REST api").
		regexp.MustCompile(`\b(create|build|make|develop|generate|start)\s+(?:a\s+)?(?:new\s+)?(?:\w+[-\s]+){0,2}(project|app|application|website|api|service)\b`),
		regexp.MustCompile(`\b(help\s+me|i\s+want\s+to|i\s+need\s+to|i'd\s+like\s+to)\s+(create|build|make|develop|generate)\b`),
		regexp.MustCompile(`\bnew\s+(?:\w+[-\s]+){0,2}(project|app|application|website|api|service)\b`),
	},
	models.IntentProjectModify: {
		regexp.MustCompile(`\b(change|modify|update|add|remove|delete|edit)\b`),
		regexp.MustCompile(`\b(implement|integrate|include)\b.*\b(feature|functionality|support)\b`),
	},
	models.IntentProjectInfo: {
		regexp.MustCompile(`\b(show|display|what|get)\b.*\b(status|info|details|project)\b`),
	},
	models.IntentHelp: {
		regexp.MustCompile(`\b(help|guide|how\s+to|tutorial|example|what\s+can)\b`),
		regexp.MustCompile(`^(explain|tell\s+me\s+about|how)\b`),
	},
	models.IntentGreeting: {
		regexp.MustCompile(`^(hi|hello|hey|greetings|good\s+(morning|afternoon|evening))\b`),
		regexp.MustCompile(`\bhow\s+are\s+you\b`),
	},
}

// modifyVerbPattern extracts the leading modification verb for metadata.
var modifyVerbPattern = regexp.MustCompile(`\b(change|modify|update|add|remove|delete|edit|implement|integrate|include)\b`)

// Classifier maps a message plus session context to an intent. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify scores the message against every intent's regex family, applies
// the project-context boosts, and picks the highest score. When no regex
// fires it falls back on conversational heuristics: a reply to an assistant
// message is a clarification, a very short message is a weak clarification,
// anything else is unknown.
//
// The session may be nil (no context boosts, no assistant-reply fallback).
func (c *Classifier) Classify(message string, sess *models.Session) Result {
	normalized := strings.ToLower(strings.TrimSpace(message))
	entities := ExtractEntities(normalized)
	hasProject := sess != nil && sess.HasProject()

	best := Result{Intent: models.IntentUnknown}
	for _, it := range models.IntentOrder {
		patterns, ok := intentPatterns[it]
		if !ok {
			continue
		}
		hit := false
		for _, re := range patterns {
			if re.MatchString(normalized) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}

		score := baseScore
		switch {
		case it == models.IntentProjectModify && hasProject:
			score += contextBoost
		case it == models.IntentProjectCreate && !hasProject:
			score += contextBoost
		}
		// Strictly greater: equal scores keep the earlier intent (enum order).
		if score > best.Confidence {
			best.Intent = it
			best.Confidence = score
		}
	}

	if best.Confidence == 0 {
		best = c.fallback(normalized, sess)
	}

	best.Metadata = buildMetadata(best.Intent, normalized, entities)
	return best
}

// fallback applies the no-regex-hit heuristics in order.
func (c *Classifier) fallback(normalized string, sess *models.Session) Result {
	if last := priorMessage(sess, normalized); last != nil && last.Role == models.RoleAssistant {
		return Result{Intent: models.IntentClarification, Confidence: clarificationAfterAssistant}
	}
	if len(strings.Fields(normalized)) < shortMessageTokens {
		return Result{Intent: models.IntentClarification, Confidence: clarificationShortMessage}
	}
	return Result{Intent: models.IntentUnknown, Confidence: unknownConfidence}
}

// priorMessage returns the message preceding the inbound one. Callers
// classify after the user message has been appended to the session, so a
// trailing user message carrying the same text is the input itself, not
// conversation history.
func priorMessage(sess *models.Session, normalized string) *models.Message {
	if sess == nil || len(sess.Messages) == 0 {
		return nil
	}
	msgs := sess.Messages
	last := &msgs[len(msgs)-1]
	if last.Role == models.RoleUser && strings.ToLower(strings.TrimSpace(last.Content)) == normalized {
		if len(msgs) == 1 {
			return nil
		}
		return &msgs[len(msgs)-2]
	}
	return last
}

// buildMetadata assembles the entity map plus intent-specific fields.
func buildMetadata(it models.IntentType, normalized string, entities models.Entities) map[string]any {
	md := map[string]any{"entities": entities}

	switch it {
	case models.IntentProjectCreate:
		if len(entities.ProjectTypes) > 0 {
			md["project_type"] = entities.ProjectTypes[0]
		}
	case models.IntentProjectModify:
		if verb := modifyVerbPattern.FindString(normalized); verb != "" {
			md["modification_verb"] = verb
		}
	}
	return md
}
