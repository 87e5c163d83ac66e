package constants

// Column categories as spelled in the extended schema
const (
	CategoryConfiguration = "configuration"
	CategoryStatus        = "status"
	CategoryStatistics    = "statistics"
)

// Relationship tags as spelled in the extended schema
const (
	RelationshipChild     = "1:m"
	RelationshipParent    = "m:1"
	RelationshipReference = "reference"
)

// Element type names as spelled in the schema
const (
	TypeInteger = "integer"
	TypeReal    = "real"
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeUUID    = "uuid"
)

// Unlimited is the spelling of an unbounded max cardinality
const Unlimited = "unlimited"
