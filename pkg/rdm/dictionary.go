package rdm

import "github.com/backkem/feedconsumer/pkg/message"

// DictionaryRequest builds a request for a named dictionary from a service.
func DictionaryRequest(streamID int32, name string, serviceID uint16, verbosity uint32) *message.Msg {
	return &message.Msg{
		Class:    message.ClassRequest,
		Domain:   message.DomainDictionary,
		StreamID: streamID,
		Key: message.Key{
			Name:      name,
			ServiceID: serviceID,
			HasServID: true,
			Filter:    verbosity,
		},
		HasKey: true,
	}
}

// ItemRequest builds a streaming request for an item in the given domain.
func ItemRequest(domain message.Domain, streamID int32, name string, serviceID uint16) *message.Msg {
	return &message.Msg{
		Class:    message.ClassRequest,
		Domain:   domain,
		StreamID: streamID,
		Flags:    message.FlagStreaming,
		Key: message.Key{
			Name:      name,
			NameType:  message.NameTypeRIC,
			ServiceID: serviceID,
			HasServID: true,
		},
		HasKey: true,
	}
}
