package dictionary

import (
	"fmt"

	"github.com/pion/logging"
)

// Progress is the outcome of consuming one fragment.
type Progress int

const (
	// MoreExpected means the download needs further fragments.
	MoreExpected Progress = iota
	// Complete means the fragment finished the download and the result
	// was adopted into the dictionary.
	Complete
)

// String returns the string representation of the progress value.
func (p Progress) String() string {
	switch p {
	case MoreExpected:
		return "MoreExpected"
	case Complete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Fragment is one part of a multi-part dictionary refresh.
type Fragment struct {
	// Payload is the encoded part.
	Payload []byte

	// Final is set when the message carried the refresh-complete marker.
	Final bool
}

// Download tracks one dictionary arriving over a single stream.
type Download struct {
	StreamID int32
	Name     string

	// Expect is the kind the caller asked for, or TypeUnspecified to accept
	// whatever the first part announces.
	Expect Type

	firstPartConsumed bool
	complete          bool
	failed            bool

	kind    Type
	version string
	fields  []FieldDef
	enums   []*EnumTable
}

// Kind returns the dictionary kind announced by the first part.
func (d *Download) Kind() Type { return d.kind }

// Complete reports whether the download finished successfully.
func (d *Download) Complete() bool { return d.complete }

// Failed reports whether the download was aborted by a decode failure.
func (d *Download) Failed() bool { return d.failed }

// ReassemblerConfig configures a Reassembler.
type ReassemblerConfig struct {
	// Dictionary receives completed downloads. Required.
	Dictionary *Dictionary

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Reassembler accumulates fragmented dictionary refreshes per stream and
// adopts each one into the dictionary once its final fragment arrives.
//
// Completion is single-fire: Consume returns Complete at most once per
// download, and never after a decode failure on that download.
type Reassembler struct {
	dict      *Dictionary
	downloads map[int32]*Download
	log       logging.LeveledLogger
}

// NewReassembler creates a new Reassembler.
func NewReassembler(config ReassemblerConfig) *Reassembler {
	r := &Reassembler{
		dict:      config.Dictionary,
		downloads: make(map[int32]*Download),
	}
	if r.dict == nil {
		r.dict = New()
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("dictionary")
	}
	return r
}

// Dictionary returns the dictionary completed downloads are adopted into.
func (r *Reassembler) Dictionary() *Dictionary {
	return r.dict
}

// Track starts a download for the named dictionary on streamID, replacing
// any previous download on that stream.
func (r *Reassembler) Track(streamID int32, name string, expect Type) *Download {
	d := &Download{StreamID: streamID, Name: name, Expect: expect}
	r.downloads[streamID] = d
	return d
}

// Download returns the download on streamID, if any.
func (r *Reassembler) Download(streamID int32) (*Download, bool) {
	d, ok := r.downloads[streamID]
	return d, ok
}

// Consume decodes one fragment for streamID.
func (r *Reassembler) Consume(streamID int32, frag Fragment) (Progress, error) {
	d, ok := r.downloads[streamID]
	if !ok {
		return MoreExpected, fmt.Errorf("%w %d", ErrUnknownStream, streamID)
	}
	if d.failed {
		return MoreExpected, fmt.Errorf("%w: %s", ErrAborted, d.Name)
	}
	if d.complete {
		return MoreExpected, fmt.Errorf("%w: %s", ErrAlreadyComplete, d.Name)
	}

	// The kind is announced once, in the first part.
	kind := d.kind
	if !d.firstPartConsumed {
		kind = TypeUnspecified
	}
	p, err := decodePart(frag.Payload, kind)
	if err != nil {
		return MoreExpected, r.abort(d, err)
	}
	if !d.firstPartConsumed {
		if !p.typ.IsValid() {
			return MoreExpected, r.abort(d, fmt.Errorf("first part has no dictionary type"))
		}
		if d.Expect != TypeUnspecified && p.typ != d.Expect {
			return MoreExpected, r.abort(d, fmt.Errorf("got %s, want %s", p.typ, d.Expect))
		}
		d.kind = p.typ
		d.version = p.version
		d.firstPartConsumed = true
		if r.log != nil {
			r.log.Debugf("%s: first part announces %s", d.Name, d.kind)
		}
	}

	d.fields = append(d.fields, p.fields...)
	d.enums = append(d.enums, p.enums...)
	if r.log != nil {
		r.log.Tracef("%s: part with %d entries", d.Name, len(p.fields)+len(p.enums))
	}

	if !frag.Final {
		return MoreExpected, nil
	}

	switch d.kind {
	case TypeFieldDefinitions:
		err = r.dict.commitFields(d.fields, d.version)
	case TypeEnumTables:
		err = r.dict.commitEnums(d.enums, d.version)
	}
	if err != nil {
		return MoreExpected, r.abort(d, err)
	}
	d.complete = true
	d.fields, d.enums = nil, nil
	if r.log != nil {
		r.log.Infof("%s: dictionary complete (version %q)", d.Name, d.version)
	}
	return Complete, nil
}

// abort marks the download failed and discards everything staged so far.
func (r *Reassembler) abort(d *Download, cause error) error {
	d.failed = true
	d.fields, d.enums = nil, nil
	if r.log != nil {
		r.log.Warnf("%s: download aborted: %v", d.Name, cause)
	}
	return fmt.Errorf("%w: %s: %w", ErrDecode, d.Name, cause)
}
