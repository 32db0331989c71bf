package handshake

// Stage is the handshake progress. Stages only move forward, or to
// StageFailed, which is terminal.
type Stage int

const (
	// StageLoggingIn waits for the login response.
	StageLoggingIn Stage = iota
	// StageAwaitingDirectory waits for the source directory.
	StageAwaitingDirectory
	// StageLoadingDictionary waits for dictionary downloads.
	StageLoadingDictionary
	// StageReady means the session is established.
	StageReady
	// StageFailed means the handshake failed.
	StageFailed
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageLoggingIn:
		return "LOGGING_IN"
	case StageAwaitingDirectory:
		return "AWAITING_DIRECTORY"
	case StageLoadingDictionary:
		return "LOADING_DICTIONARY"
	case StageReady:
		return "READY"
	case StageFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if the stage is a known value.
func (s Stage) IsValid() bool {
	return s >= StageLoggingIn && s <= StageFailed
}

// IsTerminal returns true for StageReady and StageFailed.
func (s Stage) IsTerminal() bool {
	return s == StageReady || s == StageFailed
}
