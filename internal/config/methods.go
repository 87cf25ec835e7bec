package config

// Methods accepted by the dispatcher
const (
	// MethodReviewFile reviews one file's content
	MethodReviewFile = "review.file"
	// MethodScannersList lists catalogued scanners and their availability
	MethodScannersList = "scanners.list"
	// MethodScannersRefresh re-probes every catalogued scanner
	MethodScannersRefresh = "scanners.refresh"
)

// AllMethods returns a slice of all dispatcher method names
func AllMethods() []string {
	return []string{
		MethodReviewFile,
		MethodScannersList,
		MethodScannersRefresh,
	}
}

// NotificationReviewResult is the MCP notification carrying review results
const NotificationReviewResult = "notifications/review/result"
