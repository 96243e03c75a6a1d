package domain

// ConversationState is the adapter's view of whether the dialogue should
// keep going after this turn.
type ConversationState string

const (
	StateContinue ConversationState = "CONTINUE"
	StateComplete ConversationState = "COMPLETE"
)

// Context is a named, lifespan-counted piece of conversational state
// exchanged between the front end and the NLU backend. Name is the
// backend's hierarchical path (project/session/context-label); matching
// across turns is by trailing label, not full path.
type Context struct {
	Name          string         `json:"name"`
	LifespanCount int            `json:"lifespanCount"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// Event is a non-text conversation initiation signal (e.g. a welcome
// trigger fired when the user opens the channel).
type Event struct {
	Name string `json:"name"`
}

// Turn is one request of the dialogue. It fully describes the turn: the
// adapter holds no state between invocations, so any continuity must ride
// in Contexts.
type Turn struct {
	Utterance    string
	LanguageCode string
	SessionID    string
	Event        Event
	Contexts     []Context
}

// SessionPath builds the hierarchical session path that keys the backend
// call and prefixes every context name in a session.
func SessionPath(projectID, sessionID string) string {
	return "projects/" + projectID + "/agent/sessions/" + sessionID
}

// QueryOutcome is the backend's raw detect-intent result, before the
// escalation policy has been applied.
type QueryOutcome struct {
	ReplyText  string
	Intent     string
	Confidence float64
	Contexts   []Context
}

// TurnResult is the finished turn: reply, matched intent, and the context
// set the caller must echo back on the next turn to preserve continuity.
type TurnResult struct {
	ReplyText  string
	Intent     string
	Confidence float64
	Contexts   []Context
	State      ConversationState
}
