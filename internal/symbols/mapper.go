package symbols

import "strings"

// Token converts an exchange-native contract identifier to the common
// base-asset token used as the comparison key across exchanges.
// Examples:
//
//	asterdex/binance  BTCUSDT   -> BTC
//	bybit             BTCUSDT   -> BTC
//	gate              BTC_USDT  -> BTC
//	mexc              BTC_USDT  -> BTC
//	hyperliquid       BTC       -> BTC
//
// An empty return value means the contract is not comparable (wrong quote
// currency) and must be skipped.
func Token(exchange, sym string) string {
	switch strings.ToLower(exchange) {
	case "asterdex", "binance", "bybit":
		if !strings.HasSuffix(sym, "USDT") {
			return ""
		}
		return strings.TrimSuffix(sym, "USDT")
	case "gate", "mexc":
		if !strings.HasSuffix(sym, "_USDT") {
			return ""
		}
		return strings.TrimSuffix(sym, "_USDT")
	case "hyperliquid":
		// Spot pairs and indexes use @N / A/B notation on the mids channel.
		if strings.ContainsAny(sym, "@/") {
			return ""
		}
		return sym
	default:
		return sym
	}
}

// USDMargined reports whether the symbol is a coin/USD-margined contract on
// venues that list both. Those are excluded from comparison: their funding
// flows settle in the base asset, so rates are not directly comparable with
// USDT-margined books.
func USDMargined(sym string) bool {
	return strings.HasSuffix(sym, "USD")
}
