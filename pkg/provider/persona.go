package provider

import (
	"encoding/json"
	"fmt"

	"github.com/newtonlabs/providers-oss/pkg/capability"
)

// personaInquiry mirrors the slice of the Persona inquiry document the
// provider consumes. Decoding into a declared shape means a renamed or
// missing upstream field surfaces as an invalid-payload error instead of a
// lookup failure deep inside normalization.
type personaInquiry struct {
	Data struct {
		Attributes struct {
			Status    string `json:"status"`
			Birthdate string `json:"birthdate"`
			Fields    map[string]struct {
				Value any `json:"value"`
			} `json:"fields"`
			Behaviors map[string]any `json:"behaviors"`
		} `json:"attributes"`
	} `json:"data"`
}

// NewPersona builds the Persona KYC pipeline. The API key is injected as a
// bearer token from runtime configuration; it never appears in results.
func NewPersona(baseURL, apiKey string, fetcher capability.Fetcher, opts ...PipelineOption) *Pipeline {
	headers := []capability.Header{
		{Name: "Authorization", Value: "Bearer " + apiKey},
	}
	headers = append(headers, defaultHeaders()...)

	cfg := Config{
		Name:        "persona-kyc",
		Method:      "GET",
		URLTemplate: baseURL + "/inquiries/{inquiry_id}",
		Required:    []string{"inquiry_id", "now_ymd"},
		Headers:     headers,
	}
	return NewPipeline(cfg, fetcher, normalizePersona, opts...)
}

// normalizePersona rejects inquiries that are not approved, requires a
// birthdate, and reduces the inquiry to its age computation plus the fields
// downstream policies evaluate.
func normalizePersona(resp capability.Response, params map[string]string) (any, *Error) {
	var inquiry personaInquiry
	if err := json.Unmarshal(resp.Body, &inquiry); err != nil {
		return nil, invalidPayload(fmt.Sprintf("unexpected inquiry shape: %v", err), resp.Body)
	}

	attrs := inquiry.Data.Attributes
	if attrs.Status != "approved" {
		return nil, rejected(fmt.Sprintf("inquiry_not_approved:%s", attrs.Status))
	}
	if attrs.Birthdate == "" {
		return nil, rejected("birthdate_missing")
	}

	age, err := ageFromYMD(attrs.Birthdate, params["now_ymd"])
	if err != nil {
		return nil, invalidPayload(err.Error(), resp.Body)
	}

	result := map[string]any{
		"computed": map[string]any{"age": age},
		"status":   attrs.Status,
	}
	result["bot_score"] = attrs.Behaviors["bot-score"]
	if field, ok := attrs.Fields["address-country-code"]; ok {
		result["country_code"] = field.Value
	} else {
		return nil, invalidPayload("inquiry missing address-country-code", resp.Body)
	}
	if field, ok := attrs.Fields["address-subdivision"]; ok {
		result["state"] = field.Value
	} else {
		return nil, invalidPayload("inquiry missing address-subdivision", resp.Body)
	}

	return result, nil
}
