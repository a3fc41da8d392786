package service

// CreditsFor computes the document credits consumed by sending a package:
// ceil(uniqueSigners / 2), at least 1. A package with no signers still
// consumes one credit.
func CreditsFor(uniqueSigners int) int {
	if uniqueSigners <= 2 {
		return 1
	}
	return (uniqueSigners + 1) / 2
}
