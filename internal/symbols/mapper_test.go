package symbols

import "testing"

func TestToken(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"asterdex", "BTCUSDT", "BTC"},
		{"binance", "ETHUSDT", "ETH"},
		{"bybit", "SOLUSDT", "SOL"},
		{"bybit", "BTCUSD", ""},
		{"gate", "BTC_USDT", "BTC"},
		{"mexc", "DOGE_USDT", "DOGE"},
		{"mexc", "BTC_USD", ""},
		{"hyperliquid", "BTC", "BTC"},
		{"hyperliquid", "@107", ""},
		{"hyperliquid", "PURR/USDC", ""},
	}
	for _, tt := range tests {
		if got := Token(tt.exchange, tt.in); got != tt.want {
			t.Errorf("Token(%q, %q) = %q, want %q", tt.exchange, tt.in, got, tt.want)
		}
	}
}

func TestUSDMargined(t *testing.T) {
	if !USDMargined("BTCUSD") {
		t.Error("BTCUSD should be USD-margined")
	}
	if USDMargined("BTCUSDT") {
		t.Error("BTCUSDT should not be USD-margined")
	}
}
