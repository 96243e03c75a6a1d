package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"nlu-adapter/internal/auth"
	"nlu-adapter/internal/domain"
	"nlu-adapter/internal/ledger"
)

const defaultLanguageCode = "en"

// CredentialSource returns the opaque credential bundle the turn's
// identity is parsed from.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// TokenMinter signs a fresh assertion for the credential and exchanges it
// for a bearer access token. One mint per turn; tokens are never reused.
type TokenMinter interface {
	Mint(ctx context.Context, cred domain.Credential) (string, error)
}

// IntentDetector performs the backend detect-intent call for one turn.
type IntentDetector interface {
	DetectIntent(ctx context.Context, token, projectID string, turn domain.Turn) (domain.QueryOutcome, error)
}

// TurnService is the per-request controller: it validates the turn,
// sequences token minting and the backend call, applies the escalation
// policy, and assembles the final result. It holds no per-session state.
type TurnService struct {
	creds    CredentialSource
	minter   TokenMinter
	detector IntentDetector
	policy   ledger.Policy
}

// TurnInput mirrors the front end's turn payload.
type TurnInput struct {
	Utterance    string
	LanguageCode string
	SessionID    string
	EventName    string
	Contexts     []domain.Context
}

// TurnOutput is the finished turn in the front end's vocabulary: BotState
// is MOREDATA while the conversation should continue and COMPLETE once the
// escalation policy has ended it.
type TurnOutput struct {
	ReplyText  string
	Intent     string
	Confidence float64
	Contexts   []domain.Context
	BotState   string
}

const (
	BotStateMoreData = "MOREDATA"
	BotStateComplete = "COMPLETE"
)

func NewTurnService(creds CredentialSource, minter TokenMinter, detector IntentDetector, policy ledger.Policy) (*TurnService, error) {
	if creds == nil {
		return nil, errors.New("usecase: credential source must not be nil")
	}
	if minter == nil {
		return nil, errors.New("usecase: token minter must not be nil")
	}
	if detector == nil {
		return nil, errors.New("usecase: intent detector must not be nil")
	}
	if policy.Threshold <= 0 {
		policy = ledger.DefaultPolicy()
	}
	return &TurnService{
		creds:    creds,
		minter:   minter,
		detector: detector,
		policy:   policy,
	}, nil
}

// Handle runs one turn end to end. Single attempt throughout: the first
// failure is terminal for the turn, and nothing is retried.
func (s *TurnService) Handle(ctx context.Context, in TurnInput) (TurnOutput, error) {
	utterance := strings.TrimSpace(in.Utterance)
	event := strings.TrimSpace(in.EventName)
	if utterance == "" && event == "" {
		return TurnOutput{}, newError(ErrorValidation, "empty_utterance", nil)
	}

	languageCode := strings.TrimSpace(in.LanguageCode)
	if languageCode == "" {
		languageCode = defaultLanguageCode
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newSessionID()
	}

	raw, err := s.creds.Credential(ctx)
	if err != nil {
		return TurnOutput{}, newError(ErrorCredential, "credential_load_error", err)
	}
	cred, err := domain.ParseCredential(raw)
	if err != nil {
		return TurnOutput{}, newError(ErrorCredential, "credential_parse_error", err)
	}

	token, err := s.minter.Mint(ctx, cred)
	if err != nil {
		return TurnOutput{}, classifyMintError(err)
	}

	turn := domain.Turn{
		Utterance:    utterance,
		LanguageCode: languageCode,
		SessionID:    sessionID,
		Event:        domain.Event{Name: event},
		Contexts:     in.Contexts,
	}

	outcome, err := s.detector.DetectIntent(ctx, token, cred.ProjectID, turn)
	if err != nil {
		return TurnOutput{}, classifyDetectError(err)
	}

	decision := s.policy.Apply(in.Contexts, outcome, domain.SessionPath(cred.ProjectID, sessionID))

	out := TurnOutput{
		ReplyText:  decision.ReplyText,
		Intent:     outcome.Intent,
		Confidence: outcome.Confidence,
		Contexts:   decision.Contexts,
		BotState:   BotStateMoreData,
	}
	if decision.State == domain.StateComplete {
		out.BotState = BotStateComplete
	}
	return out, nil
}

// classifyMintError separates unusable credentials from a provider
// rejection from plain network failure.
func classifyMintError(err error) *Error {
	var keyErr *auth.KeyError
	if errors.As(err, &keyErr) {
		return newError(ErrorCredential, "signing_key_error", err)
	}
	var exchangeErr *auth.ExchangeError
	if errors.As(err, &exchangeErr) {
		return newError(ErrorTokenExchange, "token_exchange_rejected", err)
	}
	return newError(ErrorTransport, "token_exchange_unreachable", err)
}

func classifyDetectError(err error) *Error {
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		return newError(ErrorBackend, "detect_intent_error", err)
	}
	return newError(ErrorTransport, "backend_unreachable", err)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

var newSessionID = func() string {
	return uuid.NewString()
}
