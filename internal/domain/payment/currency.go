package payment

import "strings"

// Currencies without minor units, as charged by card gateways
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

var threeDecimal = map[string]bool{
	"BHD": true, "JOD": true, "KWD": true, "OMR": true, "TND": true,
}

// MinorUnitExponent returns the number of decimal places of an ISO 4217
// currency code. Unknown codes are treated as two-decimal.
func MinorUnitExponent(currency string) int {
	code := strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case zeroDecimal[code]:
		return 0
	case threeDecimal[code]:
		return 3
	}
	return 2
}
