package constants

// Top-level keys of request and response bodies
const (
	KeyConfiguration = "configuration"
	KeyStatus        = "status"
	KeyStatistics    = "statistics"
	KeyReferencedBy  = "referenced_by"
	KeyURI           = "uri"
	KeyAttributes    = "attributes"
)

// GET query parameters
const (
	QueryDepth    = "depth"
	QuerySelector = "selector"
	QuerySort     = "sort"
	QueryOffset   = "offset"
	QueryLimit    = "limit"
)
