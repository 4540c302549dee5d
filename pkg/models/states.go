package models

// ConversationState is the dialogue state machine attached to a session.
type ConversationState string

const (
	ConversationInitial               ConversationState = "initial"
	ConversationGatheringRequirements ConversationState = "gathering_requirements"
	ConversationConfirmingDetails     ConversationState = "confirming_details"
	ConversationProcessing            ConversationState = "processing"
	ConversationAwaitingFeedback      ConversationState = "awaiting_feedback"
	ConversationCompleted             ConversationState = "completed"
	ConversationError                 ConversationState = "error"
)

// ValidConversationState reports whether s is a member of the closed enum.
func ValidConversationState(s ConversationState) bool {
	switch s {
	case ConversationInitial, ConversationGatheringRequirements,
		ConversationConfirmingDetails, ConversationProcessing,
		ConversationAwaitingFeedback, ConversationCompleted, ConversationError:
		return true
	}
	return false
}

// ProjectState is the project lifecycle state machine, independent of the
// conversation state. The workflow driver is the sole writer for
// workflow-initiated transitions.
type ProjectState string

const (
	ProjectNotStarted ProjectState = "not_started"
	ProjectPlanning   ProjectState = "planning"
	ProjectInProgress ProjectState = "in_progress"
	ProjectModifying  ProjectState = "modifying"
	ProjectCompleted  ProjectState = "completed"
	ProjectFailed     ProjectState = "failed"
)

// ValidProjectState reports whether s is a member of the closed enum.
func ValidProjectState(s ProjectState) bool {
	switch s {
	case ProjectNotStarted, ProjectPlanning, ProjectInProgress,
		ProjectModifying, ProjectCompleted, ProjectFailed:
		return true
	}
	return false
}
