package llm

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// costPaths are the response locations OpenAI-compatible gateways use to
// report request cost, in lookup order.
var costPaths = []string{
	"usage.cost.total_cost",
	"usage.cost.total",
	"usage.cost.usd",
	"usage.total_cost",
	"usage.cost_usd",
	"cost.total_cost",
	"cost.total",
	"cost.usd",
	"cost_usd",
}

// extractCostUSD returns the first non-negative cost found in a raw
// response body. Numbers and numeric strings are both accepted.
func extractCostUSD(body []byte) *float64 {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}
	for _, r := range gjson.GetManyBytes(body, costPaths...) {
		var v float64
		switch r.Type {
		case gjson.Number:
			v = r.Num
		case gjson.String:
			f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
			if err != nil {
				continue
			}
			v = f
		default:
			continue
		}
		if v >= 0 {
			return &v
		}
	}
	return nil
}

// usageMap returns the "usage" object of a raw response body.
func usageMap(body []byte, path string) map[string]any {
	r := gjson.GetBytes(body, path)
	if !r.IsObject() {
		return nil
	}
	m, _ := r.Value().(map[string]any)
	return m
}
