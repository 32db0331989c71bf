package dictionary

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad is returned when a local dictionary file cannot be loaded.
	ErrLoad = errors.New("dictionary: load failed")

	// ErrDecode is returned when a dictionary fragment is malformed.
	ErrDecode = errors.New("dictionary: decode failed")

	// ErrUnknownStream is returned for a fragment on a stream that has no
	// download in progress.
	ErrUnknownStream = errors.New("dictionary: no download on stream")

	// ErrAborted is returned for fragments of a download that already failed.
	ErrAborted = errors.New("dictionary: download aborted")

	// ErrAlreadyComplete is returned for fragments of a download that
	// already completed.
	ErrAlreadyComplete = errors.New("dictionary: download already complete")

	// ErrUnknownArtifact is returned for a dictionary name with no local file mapping.
	ErrUnknownArtifact = errors.New("dictionary: unknown artifact")
)

// DuplicateFieldError is returned when a field id is defined twice.
type DuplicateFieldError struct {
	FID int16
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("dictionary: duplicate definition for fid %d", e.FID)
}

// ParseError reports a malformed line in a local dictionary file.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dictionary: %s:%d: %s", e.File, e.Line, e.Msg)
}

// Unwrap lets callers match parse failures against ErrLoad.
func (e *ParseError) Unwrap() error {
	return ErrLoad
}
