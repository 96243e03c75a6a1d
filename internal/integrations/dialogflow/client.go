package dialogflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nlu-adapter/internal/domain"
)

// defaultReply is the fulfillment text used when the backend answers
// without one.
const defaultReply = "Sorry, I didn't get that."

// unknownIntent is reported when the backend matched no intent at all.
const unknownIntent = "UNKNOWN"

// detectIntentRequest is the minimal request shape for the v2
// detect-intent endpoint.
type detectIntentRequest struct {
	QueryParams *queryParams `json:"queryParams,omitempty"`
	QueryInput  queryInput   `json:"queryInput"`
}

type queryParams struct {
	Contexts []domain.Context `json:"contexts"`
}

type queryInput struct {
	Text  *textInput  `json:"text,omitempty"`
	Event *eventInput `json:"event,omitempty"`
}

type textInput struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode"`
}

type eventInput struct {
	Name         string `json:"name"`
	LanguageCode string `json:"languageCode"`
}

// detectIntentResponse is the minimal response shape returned by the
// detect-intent endpoint.
type detectIntentResponse struct {
	QueryResult struct {
		FulfillmentText string `json:"fulfillmentText"`
		Intent          struct {
			DisplayName string `json:"displayName"`
		} `json:"intent"`
		IntentDetectionConfidence float64          `json:"intentDetectionConfidence"`
		OutputContexts            []domain.Context `json:"outputContexts"`
	} `json:"queryResult"`
}

// errorResponse is the backend's error envelope for non-2xx statuses.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError captures a non-2xx detect-intent response with the
// backend's own description when one was supplied.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dialogflow: backend returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("dialogflow: backend returned status %d", e.StatusCode)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused detect-intent client. It performs exactly one call
// per turn, authenticated with the bearer token minted for that turn.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    "https://dialogflow.googleapis.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func detectIntentURL(baseURL, projectID, sessionID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://dialogflow.googleapis.com"
	}
	return base + "/v2/" + domain.SessionPath(projectID, sessionID) + ":detectIntent"
}

// DetectIntent performs one detect-intent call. The turn's inbound
// contexts are forwarded unfiltered: the backend matches on the names it
// recognizes. The returned outcome carries the backend's raw result with
// absent fields defaulted (reply text, intent name, confidence, contexts);
// the escalation policy is applied by the caller.
func (c *Client) DetectIntent(ctx context.Context, token, projectID string, turn domain.Turn) (domain.QueryOutcome, error) {
	if token == "" {
		return domain.QueryOutcome{}, errors.New("dialogflow: access token must not be empty")
	}

	in := queryInput{}
	if turn.Event.Name != "" {
		in.Event = &eventInput{Name: turn.Event.Name, LanguageCode: turn.LanguageCode}
	} else {
		in.Text = &textInput{Text: turn.Utterance, LanguageCode: turn.LanguageCode}
	}
	payload := detectIntentRequest{QueryInput: in}
	if len(turn.Contexts) > 0 {
		payload.QueryParams = &queryParams{Contexts: turn.Contexts}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.QueryOutcome{}, fmt.Errorf("dialogflow: marshal request: %w", err)
	}

	url := detectIntentURL(c.baseURL, projectID, turn.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.QueryOutcome{}, fmt.Errorf("dialogflow: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return domain.QueryOutcome{}, fmt.Errorf("dialogflow: detect intent request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.QueryOutcome{}, fmt.Errorf("dialogflow: read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var envelope errorResponse
		_ = json.Unmarshal(raw, &envelope)
		return domain.QueryOutcome{}, &StatusError{
			StatusCode: res.StatusCode,
			Message:    envelope.Error.Message,
		}
	}

	var parsed detectIntentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.QueryOutcome{}, fmt.Errorf("dialogflow: decode response: %w", err)
	}

	outcome := domain.QueryOutcome{
		ReplyText:  parsed.QueryResult.FulfillmentText,
		Intent:     parsed.QueryResult.Intent.DisplayName,
		Confidence: parsed.QueryResult.IntentDetectionConfidence,
		Contexts:   parsed.QueryResult.OutputContexts,
	}
	if outcome.ReplyText == "" {
		outcome.ReplyText = defaultReply
	}
	if outcome.Intent == "" {
		outcome.Intent = unknownIntent
	}
	if outcome.Contexts == nil {
		outcome.Contexts = []domain.Context{}
	}
	return outcome, nil
}
