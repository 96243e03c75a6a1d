package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"nlu-adapter/internal/domain"
	"nlu-adapter/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// internalErrorCode is reported for failures outside the usecase taxonomy.
const internalErrorCode = "INTERNAL_ERROR"

// TurnHandler is the usecase surface the handler depends on.
type TurnHandler interface {
	Handle(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
}

// turnRequest is the bot connector's inbound turn payload.
type turnRequest struct {
	InputMessage struct {
		Text string `json:"text"`
	} `json:"inputMessage"`
	LanguageCode string `json:"languageCode"`
	BotSessionID string `json:"botSessionId"`
	Event        struct {
		Name string `json:"name"`
	} `json:"event"`
	BotContexts []domain.Context `json:"botContexts"`
}

type replyMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// turnResponse is the bot connector's outbound envelope.
type turnResponse struct {
	ReplyMessages []replyMessage   `json:"replymessages"`
	Intent        string           `json:"intent"`
	Confidence    float64          `json:"confidence"`
	BotContexts   []domain.Context `json:"botContexts"`
	BotState      string           `json:"botState"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Handler struct {
	turns TurnHandler
}

func NewHandler(turns TurnHandler) (*Handler, error) {
	if turns == nil {
		return nil, errors.New("handler: turn service must not be nil")
	}
	return &Handler{turns: turns}, nil
}

// Handle adapts one API Gateway event into a turn. Only POST reaches the
// core; every response carries a correlation ID, echoed from the caller's
// header when one was supplied.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := slog.With("correlationId", correlationID)

	if event.HTTPMethod != http.MethodPost {
		return respondError(correlationID, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is supported"), nil
	}

	var req turnRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		log.Warn("rejecting malformed request body", "err", err)
		return respondError(correlationID, http.StatusBadRequest, string(usecase.ErrorValidation), "request body is not valid JSON"), nil
	}

	out, err := h.turns.Handle(ctx, usecase.TurnInput{
		Utterance:    req.InputMessage.Text,
		LanguageCode: req.LanguageCode,
		SessionID:    req.BotSessionID,
		EventName:    req.Event.Name,
		Contexts:     req.BotContexts,
	})
	if err != nil {
		code, status := classify(err)
		log.Error("turn failed", "code", code, "err", err)
		return respondError(correlationID, status, code, err.Error()), nil
	}

	contexts := out.Contexts
	if contexts == nil {
		contexts = []domain.Context{}
	}
	return respondJSON(correlationID, http.StatusOK, turnResponse{
		ReplyMessages: []replyMessage{{Type: "Text", Text: out.ReplyText}},
		Intent:        out.Intent,
		Confidence:    out.Confidence,
		BotContexts:   contexts,
		BotState:      out.BotState,
	}), nil
}

// classify maps the usecase error taxonomy onto the boundary's HTTP
// statuses: validation is the caller's fault, upstream rejections and
// network failures surface as a bad gateway, everything else is internal.
func classify(err error) (code string, status int) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return internalErrorCode, http.StatusInternalServerError
	}
	switch ucErr.Code {
	case usecase.ErrorValidation:
		return string(ucErr.Code), http.StatusBadRequest
	case usecase.ErrorTokenExchange, usecase.ErrorBackend, usecase.ErrorTransport:
		return string(ucErr.Code), http.StatusBadGateway
	default:
		return string(ucErr.Code), http.StatusInternalServerError
	}
}

func respondJSON(correlationID string, status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    responseHeaders(correlationID),
			Body:       `{"error":"INTERNAL_ERROR","message":"failed to encode response"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(correlationID),
		Body:       string(raw),
	}
}

func respondError(correlationID string, status int, code, message string) events.APIGatewayProxyResponse {
	return respondJSON(correlationID, status, errorResponse{Error: code, Message: message})
}

func responseHeaders(correlationID string) map[string]string {
	return map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: correlationID,
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
