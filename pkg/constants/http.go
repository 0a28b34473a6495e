package constants

// HTTP headers and content types used by the API server
const (
	HeaderContentType = "Content-Type"
	HeaderRequestID   = "X-Request-ID"
	HeaderRunID       = "X-Run-ID"
	HeaderFailures    = "X-Failed-Units"
	HeaderWarnings    = "X-Extrapolated-Values"

	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
)
