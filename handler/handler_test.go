package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"nlu-adapter/internal/domain"
	"nlu-adapter/internal/usecase"
)

type stubTurns struct {
	out usecase.TurnOutput
	err error
	in  usecase.TurnInput
}

func (s *stubTurns) Handle(_ context.Context, in usecase.TurnInput) (usecase.TurnOutput, error) {
	s.in = in
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/turn",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{
		ReplyText:  "Hello! How can I help?",
		Intent:     "Greeting",
		Confidence: 0.9,
		Contexts:   []domain.Context{{Name: "projects/p1/agent/sessions/s1/contexts/order_flow", LifespanCount: 2}},
		BotState:   usecase.BotStateMoreData,
	}}
	h, err := NewHandler(turns)
	require.NoError(t, err)

	body := `{
		"inputMessage": {"text": "hello"},
		"languageCode": "en",
		"botSessionId": "s1",
		"botContexts": [{"name": "projects/p1/agent/sessions/s1/contexts/fallback_count", "lifespanCount": 1, "parameters": {"count": "1"}}]
	}`
	resp, err := h.Handle(context.Background(), makeEvent(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Equal(t, "hello", turns.in.Utterance)
	require.Equal(t, "en", turns.in.LanguageCode)
	require.Equal(t, "s1", turns.in.SessionID)
	require.Len(t, turns.in.Contexts, 1)
	require.Equal(t, "1", turns.in.Contexts[0].Parameters["count"])

	out := parseBody[map[string]any](t, resp.Body)
	replies := out["replymessages"].([]any)
	require.Len(t, replies, 1)
	first := replies[0].(map[string]any)
	require.Equal(t, "Text", first["type"])
	require.Equal(t, "Hello! How can I help?", first["text"])
	require.Equal(t, "Greeting", out["intent"])
	require.InDelta(t, 0.9, out["confidence"].(float64), 1e-9)
	require.Equal(t, "MOREDATA", out["botState"])
	require.Len(t, out["botContexts"].([]any), 1)
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	h, err := NewHandler(&stubTurns{})
	require.NoError(t, err)

	event := makeEvent(`{}`)
	event.HTTPMethod = http.MethodGet
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_InvalidBody(t *testing.T) {
	h, err := NewHandler(&stubTurns{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[map[string]any](t, resp.Body)
	require.Equal(t, string(usecase.ErrorValidation), out["error"])
}

func TestHandle_EventInitiation(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{BotState: usecase.BotStateMoreData}}
	h, err := NewHandler(turns)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), makeEvent(`{"event":{"name":"WELCOME"},"botSessionId":"s1"}`))
	require.NoError(t, err)
	require.Equal(t, "WELCOME", turns.in.EventName)
	require.Empty(t, turns.in.Utterance)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "validation", err: &usecase.Error{Code: usecase.ErrorValidation, Reason: "empty_utterance"}, status: http.StatusBadRequest, code: string(usecase.ErrorValidation)},
		{name: "credential", err: &usecase.Error{Code: usecase.ErrorCredential, Reason: "credential_parse_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorCredential)},
		{name: "token exchange", err: &usecase.Error{Code: usecase.ErrorTokenExchange, Reason: "token_exchange_rejected"}, status: http.StatusBadGateway, code: string(usecase.ErrorTokenExchange)},
		{name: "backend", err: &usecase.Error{Code: usecase.ErrorBackend, Reason: "detect_intent_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorBackend)},
		{name: "transport", err: &usecase.Error{Code: usecase.ErrorTransport, Reason: "backend_unreachable"}, status: http.StatusBadGateway, code: string(usecase.ErrorTransport)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: internalErrorCode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubTurns{err: tc.err})
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"inputMessage":{"text":"hello"},"botSessionId":"s1"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[map[string]any](t, resp.Body)
			require.Equal(t, tc.code, out["error"])
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{BotState: usecase.BotStateMoreData}}
	h, err := NewHandler(turns)
	require.NoError(t, err)

	event := makeEvent(`{"inputMessage":{"text":"hello"},"botSessionId":"s1"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_EmptyContextsSerializeAsArray(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{BotState: usecase.BotStateComplete}}
	h, err := NewHandler(turns)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"inputMessage":{"text":"hello"},"botSessionId":"s1"}`))
	require.NoError(t, err)

	out := parseBody[map[string]any](t, resp.Body)
	require.NotNil(t, out["botContexts"])
	require.Empty(t, out["botContexts"].([]any))
	require.Equal(t, "COMPLETE", out["botState"])
}
