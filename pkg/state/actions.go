package state

import (
	"regexp"
	"strings"

	"github.com/forgemcp/concierge/pkg/models"
)

// Action tags returned by NextAction. The coordinator dispatches on these.
const (
	ActionRespond            = "respond"
	ActionGatherRequirements = "gather_requirements"
	ActionConfirmDetails     = "confirm_details"
	ActionStartProcessing    = "start_processing"
	ActionStartModification  = "start_modification"
	ActionResumeModification = "resume_modification"
	ActionCancelModification = "cancel_modification"
)

// Action is the next-action decision: a tag for the coordinator, the target
// dialogue state, and a user-visible fallback message.
type Action struct {
	Action    string                   `json:"action"`
	NextState models.ConversationState `json:"next_state"`
	Message   string                   `json:"message"`
}

var (
	affirmativePattern = regexp.MustCompile(`\b(yes|yeah|yep|sure|ok|okay|confirm|confirmed|proceed|go\s+ahead|do\s+it|sounds\s+good)\b`)
	negativePattern    = regexp.MustCompile(`\b(no|nope|cancel|stop|abort|don't|do\s+not|never\s+mind)\b`)
)

// IsAffirmative reports whether the message reads as a confirmation.
func IsAffirmative(message string) bool {
	lower := strings.ToLower(message)
	return affirmativePattern.MatchString(lower) && !negativePattern.MatchString(lower)
}

// IsNegative reports whether the message reads as a rejection.
func IsNegative(message string) bool {
	return negativePattern.MatchString(strings.ToLower(message))
}

// NextAction is a pure function of (dialogue state, intent, session
// context, message text) returning what the coordinator should do next.
// The message text only matters in awaiting_feedback, where it is read as
// a confirmation or rejection of a parked high-risk modification.
func NextAction(sess *models.Session, it models.IntentType, message string) Action {
	current := currentConversationState(sess)

	// A workflow awaiting user feedback takes precedence over the intent:
	// the user's answer resumes or cancels the parked modification.
	if current == models.ConversationAwaitingFeedback {
		switch {
		case IsAffirmative(message):
			return Action{
				Action:    ActionResumeModification,
				NextState: models.ConversationProcessing,
				Message:   "Proceeding with the requested change.",
			}
		case IsNegative(message):
			return Action{
				Action:    ActionCancelModification,
				NextState: models.ConversationGatheringRequirements,
				Message:   "Understood, I've discarded that change. What would you like to do instead?",
			}
		default:
			return Action{
				Action:    ActionRespond,
				NextState: current,
				Message:   "This change carries a high risk. Reply \"yes\" to proceed or \"no\" to cancel.",
			}
		}
	}

	// The error state only permits recovery edges (initial or gathering).
	if current == models.ConversationError {
		if it == models.IntentGreeting || it == models.IntentHelp {
			return Action{
				Action:    ActionRespond,
				NextState: models.ConversationInitial,
				Message:   "Hello again! The previous attempt failed, but we can start fresh. What would you like to do?",
			}
		}
		return Action{
			Action:    ActionGatherRequirements,
			NextState: models.ConversationGatheringRequirements,
			Message:   "The previous attempt failed. Let's try again — what should the project look like?",
		}
	}

	switch it {
	case models.IntentGreeting:
		return Action{
			Action:    ActionRespond,
			NextState: current,
			Message:   "Hello! I can help you create or modify a project. What would you like to build?",
		}

	case models.IntentHelp:
		return Action{
			Action:    ActionRespond,
			NextState: current,
			Message:   "You can ask me to create a new project, modify an existing one, or show project status.",
		}

	case models.IntentProjectInfo:
		return Action{
			Action:    ActionRespond,
			NextState: current,
			Message:   "Here is the current project status.",
		}

	case models.IntentProjectCreate:
		if shouldGatherMore(sess) {
			return Action{
				Action:    ActionGatherRequirements,
				NextState: models.ConversationGatheringRequirements,
				Message:   "What kind of project do you have in mind, and which features and technologies should it include?",
			}
		}
		if current == models.ConversationConfirmingDetails {
			return Action{
				Action:    ActionStartProcessing,
				NextState: models.ConversationProcessing,
				Message:   "Starting project generation now. I'll stream progress as it happens.",
			}
		}
		return Action{
			Action:    ActionConfirmDetails,
			NextState: models.ConversationConfirmingDetails,
			Message:   "I have everything I need. Shall I start generating the project?",
		}

	case models.IntentProjectModify:
		if !sess.HasProject() {
			return Action{
				Action:    ActionRespond,
				NextState: current,
				Message:   "There's no project in this session yet. Would you like to create one first?",
			}
		}
		return Action{
			Action:    ActionStartModification,
			NextState: models.ConversationProcessing,
			Message:   "Let me analyze the impact of that change.",
		}

	case models.IntentClarification:
		if current == models.ConversationGatheringRequirements {
			if shouldGatherMore(sess) {
				return Action{
					Action:    ActionGatherRequirements,
					NextState: models.ConversationGatheringRequirements,
					Message:   "Got it. Anything else the project should include?",
				}
			}
			return Action{
				Action:    ActionConfirmDetails,
				NextState: models.ConversationConfirmingDetails,
				Message:   "I think I have enough to go on. Shall I start generating the project?",
			}
		}
		if current == models.ConversationConfirmingDetails && IsAffirmative(message) {
			return Action{
				Action:    ActionStartProcessing,
				NextState: models.ConversationProcessing,
				Message:   "Starting project generation now.",
			}
		}
		return Action{
			Action:    ActionRespond,
			NextState: current,
			Message:   "Could you tell me a bit more about what you'd like to do?",
		}

	default: // general_query, unknown
		return Action{
			Action:    ActionRespond,
			NextState: current,
			Message:   "I'm not sure I follow. You can ask me to create a project, modify one, or show its status.",
		}
	}
}
