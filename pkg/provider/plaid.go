package provider

import (
	"encoding/json"
	"fmt"

	"github.com/newtonlabs/providers-oss/pkg/capability"
)

// PlaidCredentials holds the client credentials Plaid requires inside the
// POST body. Both values come from runtime configuration.
type PlaidCredentials struct {
	ClientID string
	Secret   string
}

// plaidVerification is the slice of the identity verification document the
// provider passes through.
type plaidVerification struct {
	Status *string         `json:"status"`
	Steps  json.RawMessage `json:"steps"`
}

// NewPlaid builds the Plaid KYC pipeline. Unlike the GET providers, Plaid
// takes the verification ID in a POST body together with the client
// credentials.
func NewPlaid(baseURL string, creds PlaidCredentials, fetcher capability.Fetcher, opts ...PipelineOption) *Pipeline {
	cfg := Config{
		Name:        "plaid-kyc",
		Method:      "POST",
		URLTemplate: baseURL + "/identity_verification/get",
		Required:    []string{"verification_id"},
		Headers:     defaultHeaders(),
	}

	body := func(params map[string]string) ([]byte, *Error) {
		encoded, err := json.Marshal(map[string]string{
			"client_id":                creds.ClientID,
			"secret":                   creds.Secret,
			"identity_verification_id": params["verification_id"],
		})
		if err != nil {
			return nil, &Error{Kind: KindUnknown, Message: fmt.Sprintf("encode request body: %v", err)}
		}
		return encoded, nil
	}

	return NewPipeline(cfg, fetcher, normalizePlaid, append(opts, WithBody(body))...)
}

// normalizePlaid passes the verification status and steps through unchanged.
func normalizePlaid(resp capability.Response, _ map[string]string) (any, *Error) {
	var verification plaidVerification
	if err := json.Unmarshal(resp.Body, &verification); err != nil {
		return nil, invalidPayload(fmt.Sprintf("unexpected verification shape: %v", err), resp.Body)
	}
	if verification.Status == nil || len(verification.Steps) == 0 {
		return nil, invalidPayload("verification missing status or steps", resp.Body)
	}

	return map[string]any{
		"status": *verification.Status,
		"steps":  verification.Steps,
	}, nil
}
