package models

// IntentType is a coarse category of user request drawn from a closed enum.
type IntentType string

// Intent values in tie-break order: when two intents score equally,
// the classifier returns the one listed first.
const (
	IntentProjectCreate IntentType = "project_create"
	IntentProjectModify IntentType = "project_modify"
	IntentProjectInfo   IntentType = "project_info"
	IntentClarification IntentType = "clarification"
	IntentGeneralQuery  IntentType = "general_query"
	IntentHelp          IntentType = "help"
	IntentGreeting      IntentType = "greeting"
	IntentUnknown       IntentType = "unknown"
)

// IntentOrder lists all intents in enum (tie-break) order.
var IntentOrder = []IntentType{
	IntentProjectCreate,
	IntentProjectModify,
	IntentProjectInfo,
	IntentClarification,
	IntentGeneralQuery,
	IntentHelp,
	IntentGreeting,
	IntentUnknown,
}

// Entities holds the lexical entity extraction result: three sorted,
// de-duplicated lists matched against fixed vocabularies.
type Entities struct {
	Technologies []string `json:"technologies"`
	Features     []string `json:"features"`
	ProjectTypes []string `json:"project_types"`
}
