package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
// Consumers should depend on this interface rather than the concrete
// *Client so they remain testable without real AWS calls.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// BundleSource serves the opaque credential bundle from a single SSM
// parameter. The raw value is fetched on first use and cached for the
// process lifetime; a failed fetch is retried on the next request.
// Parsing of the bundle stays per-request with the caller.
type BundleSource struct {
	getter    Getter
	paramName string

	mu     sync.Mutex
	loaded bool
	raw    string
}

func NewBundleSource(getter Getter, paramName string) (*BundleSource, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	paramName = strings.TrimSpace(paramName)
	if paramName == "" {
		return nil, errors.New("paramstore: parameter name must not be empty")
	}
	return &BundleSource{getter: getter, paramName: paramName}, nil
}

func (s *BundleSource) Credential(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.raw, nil
	}
	raw, err := s.getter.GetParameter(ctx, s.paramName)
	if err != nil {
		return "", fmt.Errorf("paramstore: load credential bundle: %w", err)
	}
	s.raw = raw
	s.loaded = true
	return raw, nil
}
