package provider

import (
	"encoding/json"
	"fmt"

	"github.com/newtonlabs/providers-oss/pkg/capability"
)

// NewVaultsFyi builds the vaults.fyi pipeline. The upstream (the rate-limited
// proxy in front of the detailed-vaults API) is addressed by network and
// vault address; its payload is returned unchanged.
func NewVaultsFyi(baseURL string, fetcher capability.Fetcher, opts ...PipelineOption) *Pipeline {
	cfg := Config{
		Name:        "vaults-fyi",
		Method:      "GET",
		URLTemplate: baseURL + "/vaults/{inquiry_network}/{inquiry_address}",
		Required:    []string{"inquiry_address", "inquiry_network"},
	}
	return NewPipeline(cfg, fetcher, normalizeVaultsFyi, opts...)
}

// normalizeVaultsFyi is a passthrough: any valid JSON document the upstream
// returns is the result.
func normalizeVaultsFyi(resp capability.Response, _ map[string]string) (any, *Error) {
	var payload any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, invalidPayload(fmt.Sprintf("unexpected vault payload: %v", err), resp.Body)
	}
	return payload, nil
}
