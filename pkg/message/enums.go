// Package message implements the message model exchanged between a consumer
// and a provider, and the frames that carry it over a byte stream.
//
// The package provides:
//   - Message classes, domain types and stream/data state
//   - Msg encoding and decoding over the tlv element codec
//   - Length-prefixed stream framing with fragment support
package message

// Class identifies the kind of a message on a stream.
type Class uint8

const (
	// ClassRequest opens or reissues a stream.
	ClassRequest Class = 1
	// ClassRefresh carries a full image, possibly split over several messages.
	ClassRefresh Class = 2
	// ClassUpdate carries a change to a previously refreshed image.
	ClassUpdate Class = 3
	// ClassStatus carries a state change with no data.
	ClassStatus Class = 4
	// ClassClose closes a stream.
	ClassClose Class = 5
)

// String returns a human-readable name for the message class.
func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "REQUEST"
	case ClassRefresh:
		return "REFRESH"
	case ClassUpdate:
		return "UPDATE"
	case ClassStatus:
		return "STATUS"
	case ClassClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if the class is a defined value.
func (c Class) IsValid() bool {
	return c >= ClassRequest && c <= ClassClose
}

// Domain is the domain type a message belongs to.
// Values not listed here are opaque and forwarded to the application.
type Domain uint8

const (
	// DomainLogin authenticates the consumer.
	DomainLogin Domain = 1
	// DomainSource describes the services a provider offers.
	DomainSource Domain = 4
	// DomainDictionary carries field and enumerated-type dictionaries.
	DomainDictionary Domain = 5
	// DomainMarketPrice carries level-one market data.
	DomainMarketPrice Domain = 6
)

// String returns a human-readable name for the domain type.
func (d Domain) String() string {
	switch d {
	case DomainLogin:
		return "LOGIN"
	case DomainSource:
		return "SOURCE"
	case DomainDictionary:
		return "DICTIONARY"
	case DomainMarketPrice:
		return "MARKET_PRICE"
	default:
		return "OTHER"
	}
}

// IsKnown returns true for domains the session engine interprets itself.
func (d Domain) IsKnown() bool {
	switch d {
	case DomainLogin, DomainSource, DomainDictionary, DomainMarketPrice:
		return true
	}
	return false
}

// StreamState is the state of a stream as reported by the provider.
type StreamState uint8

const (
	StreamStateUnspecified   StreamState = 0
	StreamStateOpen          StreamState = 1
	StreamStateNonStreaming  StreamState = 2
	StreamStateClosedRecover StreamState = 3
	StreamStateClosed        StreamState = 4
	StreamStateRedirected    StreamState = 5
)

// String returns a human-readable name for the stream state.
func (s StreamState) String() string {
	switch s {
	case StreamStateUnspecified:
		return "UNSPECIFIED"
	case StreamStateOpen:
		return "OPEN"
	case StreamStateNonStreaming:
		return "NON_STREAMING"
	case StreamStateClosedRecover:
		return "CLOSED_RECOVER"
	case StreamStateClosed:
		return "CLOSED"
	case StreamStateRedirected:
		return "REDIRECTED"
	default:
		return "UNKNOWN"
	}
}

// IsClosed returns true if the stream will carry no further messages.
func (s StreamState) IsClosed() bool {
	return s == StreamStateClosed || s == StreamStateClosedRecover || s == StreamStateRedirected
}

// DataState is the health of the data on a stream.
type DataState uint8

const (
	DataStateNoChange DataState = 0
	DataStateOk       DataState = 1
	DataStateSuspect  DataState = 2
)

// String returns a human-readable name for the data state.
func (d DataState) String() string {
	switch d {
	case DataStateNoChange:
		return "NO_CHANGE"
	case DataStateOk:
		return "OK"
	case DataStateSuspect:
		return "SUSPECT"
	default:
		return "UNKNOWN"
	}
}

// Flags are per-message option bits.
type Flags uint16

const (
	// FlagStreaming requests ongoing updates after the refresh.
	FlagStreaming Flags = 1 << iota
	// FlagSolicited marks a refresh sent in response to a request.
	FlagSolicited
	// FlagRefreshComplete marks the final part of a multi-part refresh.
	FlagRefreshComplete
	// FlagClearCache tells the consumer to drop any cached image.
	FlagClearCache
)

// Has returns true if all bits in f are set.
func (fl Flags) Has(f Flags) bool {
	return fl&f == f
}

// NameType qualifies Key.Name.
type NameType uint8

const (
	NameTypeUnspecified NameType = 0
	NameTypeUserName    NameType = 1
	NameTypeRIC         NameType = 1 // item names share the first value
	NameTypeToken       NameType = 2
)

// Well-known stream ids used during session establishment.
const (
	StreamLogin           int32 = 1
	StreamSourceDirectory int32 = 2
	StreamFieldDictionary int32 = 3
	StreamEnumDictionary  int32 = 4
	StreamFirstItem       int32 = 5
)
