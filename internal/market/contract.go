package market

import "strings"

// Point values per contract for the supported index futures. Unknown
// symbols fall back to 1 so PnL is reported in raw points.
var contractMultipliers = map[string]float64{
	"TXF": 200,
	"MXF": 50,
	"TMF": 10,
}

// ContractMultiplier returns the currency value of one index point for
// the given symbol. Symbols carry a month suffix (TXF202609); only the
// leading product code matters.
func ContractMultiplier(symbol string) float64 {
	up := strings.ToUpper(symbol)
	for code, mult := range contractMultipliers {
		if strings.HasPrefix(up, code) {
			return mult
		}
	}
	return 1
}
