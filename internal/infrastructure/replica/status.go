package replica

// Status is the lifecycle state of a transaction
type Status int

const (
	StatusUncommitted Status = iota
	StatusUnchanged
	StatusIncomplete
	StatusSuccess
	StatusAborted
	StatusTryAgain
	StatusNotLocked
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUncommitted:
		return "uncommitted"
	case StatusUnchanged:
		return "unchanged"
	case StatusIncomplete:
		return "incomplete"
	case StatusSuccess:
		return "success"
	case StatusAborted:
		return "aborted"
	case StatusTryAgain:
		return "try-again"
	case StatusNotLocked:
		return "not-locked"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// IsTerminal reports whether the status can no longer change
func (s Status) IsTerminal() bool {
	return s != StatusUncommitted && s != StatusIncomplete
}

// IsSuccess reports whether the transaction left the database in the requested state
func (s Status) IsSuccess() bool {
	return s == StatusSuccess || s == StatusUnchanged
}
