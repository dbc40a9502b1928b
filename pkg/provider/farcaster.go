package provider

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/newtonlabs/providers-oss/pkg/capability"
)

// NewFarcaster builds the Farcaster user data pipeline. The upstream (the
// rate-limited proxy in front of the bulk user lookup API) returns a mapping
// of address to an array of user objects.
func NewFarcaster(baseURL string, fetcher capability.Fetcher, opts ...PipelineOption) *Pipeline {
	cfg := Config{
		Name:        "farcaster-user-data",
		Method:      "GET",
		URLTemplate: baseURL + "/data/{inquiry_address}",
		Required:    []string{"inquiry_address"},
		Headers:     defaultHeaders(),
	}
	return NewPipeline(cfg, fetcher, normalizeFarcaster, opts...)
}

// normalizeFarcaster flattens all user arrays across all keys of the payload
// into one list and returns the first user object verbatim. An empty flatten
// yields an empty object; a user object without the expected fields is an
// invalid payload. Keys are walked in sorted order so the first element is
// deterministic when the upstream returns more than one address.
func normalizeFarcaster(resp capability.Response, _ map[string]string) (any, *Error) {
	var payload map[string][]map[string]any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, invalidPayload(fmt.Sprintf("unexpected user data shape: %v", err), resp.Body)
	}

	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var users []map[string]any
	for _, key := range keys {
		users = append(users, payload[key]...)
	}
	if len(users) == 0 {
		return map[string]any{}, nil
	}

	user := users[0]
	if _, ok := user["score"]; !ok {
		return nil, invalidPayload("user data missing score", resp.Body)
	}
	if _, ok := user["verified_accounts"]; !ok {
		return nil, invalidPayload("user data missing verified_accounts", resp.Body)
	}
	return user, nil
}
