package domain

import "strings"

// NormalizeMarketName makes an instrument id safe to use inside channel names.
func NormalizeMarketName(market string) string {
	market = strings.Replace(market, "%2F", "_", -1)
	market = strings.Replace(market, "/", "_", -1)
	market = strings.Replace(market, ".", "_", -1)
	market = strings.Replace(market, ":", "_", -1)
	return market
}
