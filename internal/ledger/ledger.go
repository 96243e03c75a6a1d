// Package ledger implements the fallback-escalation state machine. The
// adapter holds no session table: the number of consecutive unresolved
// turns lives in a single counter context that the caller echoes back
// every turn, so the ledger is a pure function of the inbound contexts and
// the backend's result.
package ledger

import (
	"strconv"
	"strings"

	"nlu-adapter/internal/domain"
)

const (
	defaultFallbackIntent = "Default Fallback Intent"
	defaultCounterLabel   = "fallback_count"
	defaultThreshold      = 3

	defaultRephraseReply   = "Sorry, I didn't understand that. Could you rephrase?"
	defaultEscalationReply = "I'm unable to help with this. Please contact a human agent."
)

// countParam is the parameter key holding the stringified counter inside
// the counter context.
const countParam = "count"

// Policy is the escalation policy: which intent counts as unresolved, how
// the counter context is labeled, and how many consecutive unresolved
// turns end the conversation. The threshold and matching label are policy
// knobs rather than hard-coded constants.
type Policy struct {
	FallbackIntent  string
	CounterLabel    string
	Threshold       int
	RephraseReply   string
	EscalationReply string
}

// DefaultPolicy returns the canonical three-strike policy.
func DefaultPolicy() Policy {
	return Policy{
		FallbackIntent:  defaultFallbackIntent,
		CounterLabel:    defaultCounterLabel,
		Threshold:       defaultThreshold,
		RephraseReply:   defaultRephraseReply,
		EscalationReply: defaultEscalationReply,
	}
}

// Outcome is the ledger's decision for one turn.
type Outcome struct {
	ReplyText string
	Contexts  []domain.Context
	State     domain.ConversationState
}

// Apply runs the escalation policy over one turn. inbound is the context
// set carried from the previous turn, outcome is the backend's raw result,
// and contextPrefix is the hierarchical session path used to name a newly
// emitted counter context. Apply never fails: a missing or unparsable
// counter reads as zero and the reply always has a value.
func (p Policy) Apply(inbound []domain.Context, outcome domain.QueryOutcome, contextPrefix string) Outcome {
	count := p.counterValue(inbound)

	if outcome.Intent != p.FallbackIntent {
		return p.reset(inbound, outcome)
	}

	next := count + 1
	name := p.counterName(inbound, contextPrefix)

	if next >= p.Threshold {
		return Outcome{
			ReplyText: p.EscalationReply,
			Contexts: p.withCounter(outcome.Contexts, domain.Context{
				Name:          name,
				LifespanCount: 0,
				Parameters:    map[string]any{countParam: strconv.Itoa(next)},
			}),
			State: domain.StateComplete,
		}
	}

	return Outcome{
		ReplyText: p.RephraseReply,
		Contexts: p.withCounter(outcome.Contexts, domain.Context{
			Name:          name,
			LifespanCount: 1,
			Parameters:    map[string]any{countParam: strconv.Itoa(next)},
		}),
		State: domain.StateContinue,
	}
}

// reset handles a resolved turn: any counter context is dropped from the
// outbound set, and if one was being carried it is replaced by an explicit
// zero-lifespan copy so the backend expires it too.
func (p Policy) reset(inbound []domain.Context, outcome domain.QueryOutcome) Outcome {
	contexts := p.stripCounter(outcome.Contexts)

	if existing, ok := p.findCounter(inbound); ok {
		contexts = append(contexts, domain.Context{
			Name:          existing.Name,
			LifespanCount: 0,
			Parameters:    map[string]any{countParam: "0"},
		})
	} else if existing, ok := p.findCounter(outcome.Contexts); ok {
		contexts = append(contexts, domain.Context{
			Name:          existing.Name,
			LifespanCount: 0,
			Parameters:    map[string]any{countParam: "0"},
		})
	}

	return Outcome{
		ReplyText: outcome.ReplyText,
		Contexts:  contexts,
		State:     domain.StateContinue,
	}
}

// withCounter enforces the filter-then-append discipline: any existing
// counter context is removed before the fresh one is appended, so the
// outbound set never accumulates duplicates no matter how the client
// echoes contexts back.
func (p Policy) withCounter(contexts []domain.Context, counter domain.Context) []domain.Context {
	return append(p.stripCounter(contexts), counter)
}

func (p Policy) stripCounter(contexts []domain.Context) []domain.Context {
	kept := make([]domain.Context, 0, len(contexts))
	for _, c := range contexts {
		if p.matchesLabel(c.Name) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (p Policy) findCounter(contexts []domain.Context) (domain.Context, bool) {
	for _, c := range contexts {
		if p.matchesLabel(c.Name) {
			return c, true
		}
	}
	return domain.Context{}, false
}

// counterValue reads the carried counter from the inbound set. Absence,
// a missing count parameter, or an unparsable value all read as zero; the
// ledger degrades rather than erroring.
func (p Policy) counterValue(inbound []domain.Context) int {
	c, ok := p.findCounter(inbound)
	if !ok {
		return 0
	}
	raw, ok := c.Parameters[countParam]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return 0
		}
		return n
	case float64:
		if v < 0 {
			return 0
		}
		return int(v)
	default:
		return 0
	}
}

// counterName keeps the name of a counter already in flight so the backend
// sees a stable context across turns; a brand-new counter is named under
// the session's context path.
func (p Policy) counterName(inbound []domain.Context, contextPrefix string) string {
	if existing, ok := p.findCounter(inbound); ok {
		return existing.Name
	}
	prefix := strings.TrimRight(contextPrefix, "/")
	if prefix == "" {
		return p.CounterLabel
	}
	return prefix + "/contexts/" + p.CounterLabel
}

// matchesLabel matches a context by its trailing label. Backend context
// names embed the full project/session path, which varies per session;
// only the label is stable across turns.
func (p Policy) matchesLabel(name string) bool {
	return name == p.CounterLabel || strings.HasSuffix(name, "/"+p.CounterLabel)
}
