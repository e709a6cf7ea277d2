package classify

import "strings"

// TODO: move the fact-type table into the catalog once t_dmm_module carries the file-token mapping.
var factTypes = map[string]string{
	"volume":   "ACT-VOL",
	"revenue":  "ACT-REV",
	"stddisc":  "ACT-DSTD",
	"bulkdisc": "ACT-DBLK",
	"offdisc":  "ACT-DOFF",
}

// FactTypeFor maps a file-type token to its canonical fact-type code.
// Unknown tokens map to "".
func FactTypeFor(token string) string {
	return factTypes[strings.ToLower(token)]
}

var currencyNeutralMarkers = []string{
	"actual_exchange_rates",
	"rolling_estimate_exchange_rates",
	"business_plan_exchange_rates",
}

// IsCurrencyNeutralFile reports whether a filename is one of the exchange-rate
// sets, which carry no bottler file type.
func IsCurrencyNeutralFile(filename string) bool {
	return containsAny(filename, currencyNeutralMarkers)
}

var submissionMarkers = []string{"_volume_", "_revenue_", "_stddisc_", "_bulkdisc_", "_offdisc_"}

// isSubmissionFile reports whether a filename is a manual or automated fact submission.
func isSubmissionFile(filename string) bool {
	return containsAny(filename, submissionMarkers)
}

func containsAny(s string, markers []string) bool {
	s = strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
