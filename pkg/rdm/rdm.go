// Package rdm encodes and decodes the domain payloads used while a consumer
// establishes its session: login, source directory and dictionary requests.
//
// Decoding of provider-sent collections is bounded by Limits. When a bound
// is reached the remainder of that container is skipped and decoding
// continues with the next sibling element.
package rdm

import (
	"github.com/backkem/feedconsumer/pkg/message"
)

// Directory filter bits select which facets of each service a directory
// response carries.
const (
	FilterInfo  uint32 = 0x01
	FilterState uint32 = 0x02
	FilterGroup uint32 = 0x04
	FilterLoad  uint32 = 0x08
	FilterData  uint32 = 0x10
	FilterLink  uint32 = 0x20
)

// DefaultDirectoryFilter requests only the facets needed to resolve a
// service and its capabilities.
const DefaultDirectoryFilter = FilterInfo | FilterState | FilterGroup

// Dictionary verbosity, carried in the request key filter.
const (
	VerbosityInfo    uint32 = 0x00
	VerbosityMinimal uint32 = 0x03
	VerbosityNormal  uint32 = 0x07
	VerbosityVerbose uint32 = 0x0F
)

// Role is the login role attribute.
type Role uint8

const (
	RoleConsumer Role = 0
	RoleProvider Role = 1
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleConsumer:
		return "CONSUMER"
	case RoleProvider:
		return "PROVIDER"
	default:
		return "UNKNOWN"
	}
}

// Dictionary artifact names offered by providers.
const (
	FieldDictionaryName = "RWFFld"
	EnumDictionaryName  = "RWFEnum"
)

// Limits bound how much of a provider-sent collection is decoded.
type Limits struct {
	// MaxServices is the number of service entries decoded per directory message.
	MaxServices int

	// MaxCapabilities is the number of capabilities kept per service.
	MaxCapabilities int

	// MaxDictionaries is the number of dictionary names kept per service.
	MaxDictionaries int

	// MaxQoS is the number of QoS entries kept per service.
	MaxQoS int
}

// DefaultLimits returns the bounds used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxServices:     15,
		MaxCapabilities: 10,
		MaxDictionaries: 5,
		MaxQoS:          5,
	}
}

// WithDefaults fills unset bounds from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxServices <= 0 {
		l.MaxServices = d.MaxServices
	}
	if l.MaxCapabilities <= 0 {
		l.MaxCapabilities = d.MaxCapabilities
	}
	if l.MaxDictionaries <= 0 {
		l.MaxDictionaries = d.MaxDictionaries
	}
	if l.MaxQoS <= 0 {
		l.MaxQoS = d.MaxQoS
	}
	return l
}

// CloseMsg builds a close for the given domain and stream.
func CloseMsg(domain message.Domain, streamID int32) *message.Msg {
	return &message.Msg{
		Class:    message.ClassClose,
		Domain:   domain,
		StreamID: streamID,
	}
}
