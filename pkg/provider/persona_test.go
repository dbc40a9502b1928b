package provider

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personaBody(status, birthdate string) string {
	return fmt.Sprintf(`{
		"data": {
			"attributes": {
				"status": %q,
				"birthdate": %q,
				"fields": {
					"address-country-code": {"value": "US"},
					"address-subdivision": {"value": "CA"}
				},
				"behaviors": {"bot-score": 12}
			}
		}
	}`, status, birthdate)
}

func runPersona(t *testing.T, spy *spyFetcher, input string) map[string]any {
	t.Helper()
	p := NewPersona("https://withpersona.com/api/v1", "test-key", spy)
	return decodeResult(t, p.Run(context.Background(), input))
}

func TestPersonaRequiresInquiryIDAndNow(t *testing.T) {
	spy := jsonFetcher(200, personaBody("approved", "1990-06-15"))

	doc := runPersona(t, spy, `{"now_ymd": "2024-06-15"}`)
	assert.Equal(t, "inquiry_id_missing", doc["error"])

	doc = runPersona(t, spy, `{"inquiry_id": "inq_1"}`)
	assert.Equal(t, "now_ymd_missing", doc["error"])

	assert.Empty(t, spy.requests, "validation failures must not fetch")
}

func TestPersonaRejectsUnapprovedInquiry(t *testing.T) {
	for _, status := range []string{"pending", "declined", "expired", ""} {
		spy := jsonFetcher(200, personaBody(status, ""))
		doc := runPersona(t, spy, `{"inquiry_id": "inq_1", "now_ymd": "2024-06-15"}`)
		assert.Equal(t, "inquiry_not_approved:"+status, doc["error"], "status %q", status)
	}
}

func TestPersonaRejectsMissingBirthdate(t *testing.T) {
	spy := jsonFetcher(200, personaBody("approved", ""))
	doc := runPersona(t, spy, `{"inquiry_id": "inq_1", "now_ymd": "2024-06-15"}`)
	assert.Equal(t, "birthdate_missing", doc["error"])
}

func TestPersonaComputesAgeAgainstSuppliedDate(t *testing.T) {
	cases := []struct {
		now  string
		want float64
	}{
		{"2024-06-14", 33},
		{"2024-06-15", 34},
		{"2024-06-16", 34},
	}

	for _, tc := range cases {
		spy := jsonFetcher(200, personaBody("approved", "1990-06-15"))
		input := fmt.Sprintf(`{"inquiry_id": "inq_1", "now_ymd": %q}`, tc.now)
		doc := runPersona(t, spy, input)

		require.NotContains(t, doc, "error", "now %s", tc.now)
		computed, ok := doc["computed"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, tc.want, computed["age"], "now %s", tc.now)
	}
}

func TestPersonaResultShape(t *testing.T) {
	spy := jsonFetcher(200, personaBody("approved", "1990-06-15"))
	doc := runPersona(t, spy, `{"inquiry_id": "inq_1", "now_ymd": "2024-06-15"}`)

	assert.Equal(t, "approved", doc["status"])
	assert.Equal(t, float64(12), doc["bot_score"])
	assert.Equal(t, "US", doc["country_code"])
	assert.Equal(t, "CA", doc["state"])
}

func TestPersonaSendsBearerTokenAndNeverLeaksIt(t *testing.T) {
	spy := jsonFetcher(200, personaBody("approved", "1990-06-15"))
	p := NewPersona("https://withpersona.com/api/v1", "secret-key", spy)

	result := p.Run(context.Background(), `{"inquiry_id": "inq 1", "now_ymd": "2024-06-15"}`)

	require.Len(t, spy.requests, 1)
	req := spy.requests[0]
	assert.Equal(t, "https://withpersona.com/api/v1/inquiries/inq%201", req.URL)

	var auth string
	for _, h := range req.Headers {
		if h.Name == "Authorization" {
			auth = h.Value
		}
	}
	assert.Equal(t, "Bearer secret-key", auth)
	assert.NotContains(t, result, "secret-key")
}

func TestPersonaMissingAddressFieldsIsInvalidPayload(t *testing.T) {
	body := `{
		"data": {
			"attributes": {
				"status": "approved",
				"birthdate": "1990-06-15",
				"fields": {},
				"behaviors": {}
			}
		}
	}`
	spy := jsonFetcher(200, body)
	doc := runPersona(t, spy, `{"inquiry_id": "inq_1", "now_ymd": "2024-06-15"}`)

	assert.Equal(t, "inquiry missing address-country-code", doc["error"])
	assert.Equal(t, "unable to parse upstream payload", doc["message"])
}

func TestPersonaMalformedBirthdateIsInvalidPayload(t *testing.T) {
	spy := jsonFetcher(200, personaBody("approved", "June 1990"))
	doc := runPersona(t, spy, `{"inquiry_id": "inq_1", "now_ymd": "2024-06-15"}`)

	assert.Contains(t, doc["error"], "parse birthdate")
}
