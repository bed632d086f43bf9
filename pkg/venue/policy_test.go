package venue

import (
	"os"
	"path/filepath"
	"testing"
)

const samplePolicy = `
routes:
  - route: ARCA
    synthetic_price: true
    reference_price: 0.01
  - route: NSDQ
    market_route: NSDQ-MKT
`

func loadSample(t *testing.T) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "venues.yaml")
	if err := os.WriteFile(path, []byte(samplePolicy), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	table, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return table
}

func TestApplyMarketSyntheticPrice(t *testing.T) {
	table := loadSample(t)

	route, price := table.ApplyMarket("ARCA", 255.00)
	if route != "ARCA" || price != 255.00 {
		t.Fatalf("got %s @%f, want ARCA @255 (caller reference)", route, price)
	}

	// without a reference price the static fallback applies
	_, price = table.ApplyMarket("ARCA", 0)
	if price != 0.01 {
		t.Fatalf("fallback price = %f, want 0.01", price)
	}
}

func TestApplyMarketReroute(t *testing.T) {
	table := loadSample(t)

	route, price := table.ApplyMarket("NSDQ", 255.00)
	if route != "NSDQ-MKT" {
		t.Fatalf("route = %s, want NSDQ-MKT", route)
	}
	if price != 0 {
		t.Fatalf("price = %f, want 0 (no synthetic price for NSDQ)", price)
	}
}

func TestUnknownRouteUntouched(t *testing.T) {
	table := loadSample(t)

	route, price := table.ApplyMarket("EDGX", 255.00)
	if route != "EDGX" || price != 0 {
		t.Fatalf("unknown route adjusted: %s @%f", route, price)
	}
}

func TestNilTableIsNoop(t *testing.T) {
	var table *Table
	route, price := table.ApplyMarket("ARCA", 255.00)
	if route != "ARCA" || price != 0 {
		t.Fatalf("nil table adjusted: %s @%f", route, price)
	}
}
