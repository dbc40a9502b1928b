package provider

import (
	"encoding/json"
	"fmt"

	"github.com/newtonlabs/providers-oss/pkg/capability"
)

// riskRank orders risk levels so the provider can reduce a set of wallet
// matches to the single highest level.
var riskRank = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// scoreReport is the slice of the risk signals document the provider reads.
// Matches keep their full shape; policies downstream inspect more than the
// risk level.
type scoreReport struct {
	Data struct {
		WalletMatches []map[string]any `json:"wallet_matches"`
	} `json:"data"`
}

// NewScore builds the generic risk score lookup pipeline. It reports the
// highest risk level found across the address's wallet matches, defaulting
// to "low" when there are none.
func NewScore(baseURL string, fetcher capability.Fetcher, opts ...PipelineOption) *Pipeline {
	cfg := Config{
		Name:        "risk-score",
		Method:      "GET",
		URLTemplate: baseURL + "/risk/address/{address}",
		Required:    []string{"address"},
	}
	return NewPipeline(cfg, fetcher, normalizeScore, opts...)
}

func normalizeScore(resp capability.Response, params map[string]string) (any, *Error) {
	var report scoreReport
	if err := json.Unmarshal(resp.Body, &report); err != nil {
		return nil, invalidPayload(fmt.Sprintf("unexpected risk report shape: %v", err), resp.Body)
	}

	matches := report.Data.WalletMatches
	if matches == nil {
		matches = []map[string]any{}
	}

	highest := "low"
	for _, match := range matches {
		level, _ := match["risk_level"].(string)
		if riskRank[level] > riskRank[highest] {
			highest = level
		}
	}

	return map[string]any{
		"status":         resp.Status,
		"address":        params["address"],
		"risk_level":     highest,
		"wallet_matches": matches,
	}, nil
}
