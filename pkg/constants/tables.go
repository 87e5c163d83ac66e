package constants

// Root of the table hierarchy. Every resource chain starts at this singleton row.
const (
	RootTable    = "System"
	RootURIToken = "system"
)

// IndexUUID is the synthetic index used by tables that declare no index columns.
// Rows of such tables are addressed by their literal UUID.
const IndexUUID = "_uuid"
