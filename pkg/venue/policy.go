// Package venue holds the per-route order policy table. Some destinations
// reject market orders carrying a zero price field; the table lets operators
// re-route market flow or inject a synthetic reference price without code
// changes.
package venue

import (
	"os"

	"gopkg.in/yaml.v3"
)

// RoutePolicy describes venue-specific handling for one route.
type RoutePolicy struct {
	Route          string  `yaml:"route"`
	MarketRoute    string  `yaml:"market_route,omitempty"`    // re-route market orders here
	SyntheticPrice bool    `yaml:"synthetic_price,omitempty"` // market orders need a non-zero price
	ReferencePrice float64 `yaml:"reference_price,omitempty"` // static fallback when no price is supplied
}

type policyFile struct {
	Routes []RoutePolicy `yaml:"routes"`
}

// Table resolves route policies. The zero value applies no adjustments.
type Table struct {
	routes map[string]RoutePolicy
}

// Load reads a policy table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	t := &Table{routes: make(map[string]RoutePolicy, len(file.Routes))}
	for _, r := range file.Routes {
		t.routes[r.Route] = r
	}
	return t, nil
}

// Lookup returns the policy for a route, ok=false when none is configured.
func (t *Table) Lookup(route string) (RoutePolicy, bool) {
	if t == nil || t.routes == nil {
		return RoutePolicy{}, false
	}
	p, ok := t.routes[route]
	return p, ok
}

// ApplyMarket adjusts a market order's route and price per the table.
// refPrice is the caller's best known reference price (may be zero).
func (t *Table) ApplyMarket(route string, refPrice float64) (newRoute string, price float64) {
	p, ok := t.Lookup(route)
	if !ok {
		return route, 0
	}
	newRoute = route
	if p.MarketRoute != "" {
		newRoute = p.MarketRoute
	}
	if p.SyntheticPrice {
		price = refPrice
		if price == 0 {
			price = p.ReferencePrice
		}
	}
	return newRoute, price
}
