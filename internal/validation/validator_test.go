package validation

import "testing"

func TestValidateOrderRequest(t *testing.T) {
	cases := []struct {
		name       string
		instrument string
		side       string
		qty        string
		price      string
		valid      bool
	}{
		{"valid buy", "BTC-USD", "buy", "1.5", "100", true},
		{"valid sell", "ETH-USD", "sell", "2", "101.25", true},
		{"lowercase instrument normalized", "btc-usd", "buy", "1", "100", true},
		{"missing instrument", "", "buy", "1", "100", false},
		{"bad instrument format", "BTCUSD", "buy", "1", "100", false},
		{"bad side", "BTC-USD", "hold", "1", "100", false},
		{"missing qty", "BTC-USD", "buy", "", "100", false},
		{"negative qty", "BTC-USD", "buy", "-1", "100", false},
		{"non-numeric qty", "BTC-USD", "buy", "lots", "100", false},
		{"missing price", "BTC-USD", "buy", "1", "", false},
		{"zero price", "BTC-USD", "buy", "1", "0", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, errs := ValidateOrderRequest(tc.instrument, tc.side, tc.qty, tc.price)
			if tc.valid && len(errs) > 0 {
				t.Fatalf("expected valid, got errors: %+v", errs)
			}
			if !tc.valid && len(errs) == 0 {
				t.Fatalf("expected errors, got none")
			}
			if tc.valid && req.Instrument != NormalizeInstrument(tc.instrument) {
				t.Fatalf("expected normalized instrument, got %s", req.Instrument)
			}
		})
	}
}

func TestValidateOrderRequestReportsAllFields(t *testing.T) {
	_, errs := ValidateOrderRequest("", "hold", "-1", "")
	if len(errs) != 4 {
		t.Fatalf("expected 4 field errors, got %d: %+v", len(errs), errs)
	}
}

func TestNormalizeInstrument(t *testing.T) {
	if got := NormalizeInstrument(" btc-usd "); got != "BTC-USD" {
		t.Fatalf("expected BTC-USD, got %s", got)
	}
}
