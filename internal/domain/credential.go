package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Credential is the service-account identity used to authenticate to the
// NLU backend: who signs (ClientEmail), with what (PrivateKeyPEM), and
// which backend project the turn targets (ProjectID).
type Credential struct {
	ClientEmail   string `json:"client_email"`
	PrivateKeyPEM string `json:"private_key"`
	ProjectID     string `json:"project_id"`
}

// ParseCredential parses the opaque credential bundle (a service-account
// key file serialized as a single JSON string). All three fields must be
// present: without the private key no assertion can be signed, and without
// the project the backend session path cannot be built.
func ParseCredential(raw string) (Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, errors.New("credential bundle is empty")
	}
	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return Credential{}, fmt.Errorf("unmarshal credential bundle: %w", err)
	}
	if cred.ClientEmail == "" {
		return Credential{}, errors.New("credential bundle missing client_email")
	}
	if cred.PrivateKeyPEM == "" {
		return Credential{}, errors.New("credential bundle missing private_key")
	}
	if cred.ProjectID == "" {
		return Credential{}, errors.New("credential bundle missing project_id")
	}
	return cred, nil
}
