package rdm

import (
	"fmt"
	"slices"

	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/tlv"
)

// MapAction is the action applied by a service map entry.
type MapAction uint8

const (
	MapActionAdd    MapAction = 1
	MapActionUpdate MapAction = 2
	MapActionDelete MapAction = 3
)

// String returns a human-readable name for the action.
func (a MapAction) String() string {
	switch a {
	case MapActionAdd:
		return "ADD"
	case MapActionUpdate:
		return "UPDATE"
	case MapActionDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if the action is a defined value.
func (a MapAction) IsValid() bool {
	return a >= MapActionAdd && a <= MapActionDelete
}

// Timeliness of a QoS option.
type Timeliness uint8

const (
	TimelinessUnspecified    Timeliness = 0
	TimelinessRealtime       Timeliness = 1
	TimelinessDelayedUnknown Timeliness = 2
	TimelinessDelayed        Timeliness = 3
)

// Rate of a QoS option.
type Rate uint8

const (
	RateUnspecified         Rate = 0
	RateTickByTick          Rate = 1
	RateJustInTimeConflated Rate = 2
	RateTimeConflated       Rate = 3
)

// QoS is a quality-of-service option offered by a service.
type QoS struct {
	Timeliness Timeliness
	Rate       Rate
	Dynamic    bool
}

// DefaultQoS is assumed when a service advertises none.
func DefaultQoS() QoS {
	return QoS{Timeliness: TimelinessRealtime, Rate: RateTickByTick}
}

// ServiceInfo is the info facet of a service entry.
type ServiceInfo struct {
	Name         string
	Vendor       string
	Capabilities []message.Domain
	Dictionaries []string
	QoS          []QoS
}

// ServiceState is the state facet of a service entry.
type ServiceState struct {
	Up                bool
	AcceptingRequests bool
	Status            *message.State
}

// ServiceGroup is the group facet of a service entry.
type ServiceGroup struct {
	Group    []byte
	MergedTo []byte
}

// ServiceEntry is one decoded entry of a directory service map.
type ServiceEntry struct {
	Action MapAction
	ID     uint16
	Info   *ServiceInfo
	State  *ServiceState
	Group  *ServiceGroup
}

// Directory is a decoded directory payload.
type Directory struct {
	Entries []ServiceEntry

	// Skipped counts collection members that were discarded because a
	// bound in Limits was reached.
	Skipped int
}

// Service is the accumulated view of one upstream service, built from
// successive directory entries.
type Service struct {
	ID                uint16
	Name              string
	Vendor            string
	Up                bool
	AcceptingRequests bool
	Capabilities      []message.Domain
	Dictionaries      []string
	QoS               []QoS
	Status            *message.State
	Group             []byte
}

// Apply merges an entry into the service. Facets absent from the entry are
// left untouched.
func (s *Service) Apply(e ServiceEntry) {
	s.ID = e.ID
	if e.Info != nil {
		s.Name = e.Info.Name
		s.Vendor = e.Info.Vendor
		s.Capabilities = slices.Clone(e.Info.Capabilities)
		s.Dictionaries = slices.Clone(e.Info.Dictionaries)
		s.QoS = slices.Clone(e.Info.QoS)
		if len(s.QoS) == 0 {
			s.QoS = []QoS{DefaultQoS()}
		}
	}
	if e.State != nil {
		s.Up = e.State.Up
		s.AcceptingRequests = e.State.AcceptingRequests
		s.Status = e.State.Status
	}
	if e.Group != nil {
		s.Group = slices.Clone(e.Group.Group)
		if len(e.Group.MergedTo) > 0 {
			s.Group = slices.Clone(e.Group.MergedTo)
		}
	}
}

// Available returns true if the service is up and accepting requests.
func (s *Service) Available() bool {
	return s.Up && s.AcceptingRequests
}

// HasCapability returns true if the service declares the domain.
func (s *Service) HasCapability(d message.Domain) bool {
	return slices.Contains(s.Capabilities, d)
}

// OffersDictionary returns true if the service offers the named dictionary.
func (s *Service) OffersDictionary(name string) bool {
	return slices.Contains(s.Dictionaries, name)
}

// Entry returns a full-image entry for the service restricted to the
// facets selected by filter.
func (s *Service) Entry(filter uint32) ServiceEntry {
	e := ServiceEntry{Action: MapActionAdd, ID: s.ID}
	if filter&FilterInfo != 0 {
		e.Info = &ServiceInfo{
			Name:         s.Name,
			Vendor:       s.Vendor,
			Capabilities: s.Capabilities,
			Dictionaries: s.Dictionaries,
			QoS:          s.QoS,
		}
	}
	if filter&FilterState != 0 {
		e.State = &ServiceState{
			Up:                s.Up,
			AcceptingRequests: s.AcceptingRequests,
			Status:            s.Status,
		}
	}
	if filter&FilterGroup != 0 && len(s.Group) > 0 {
		e.Group = &ServiceGroup{Group: s.Group}
	}
	return e
}

// DirectoryRequest builds a streaming directory request.
func DirectoryRequest(streamID int32, filter uint32) *message.Msg {
	if streamID == 0 {
		streamID = message.StreamSourceDirectory
	}
	return &message.Msg{
		Class:    message.ClassRequest,
		Domain:   message.DomainSource,
		StreamID: streamID,
		Flags:    message.FlagStreaming,
		Key:      message.Key{Filter: filter},
		HasKey:   true,
	}
}

// Entry member tags.
const (
	tagEntryAction = 1
	tagEntryID     = 2
	tagEntryInfo   = 3
	tagEntryState  = 4
	tagEntryGroup  = 5

	tagInfoName         = 1
	tagInfoVendor       = 2
	tagInfoCapabilities = 3
	tagInfoDictionaries = 4
	tagInfoQoS          = 5

	tagQoSTimeliness = 1
	tagQoSRate       = 2
	tagQoSDynamic    = 3

	tagStateUp        = 1
	tagStateAccepting = 2
	tagStateStatus    = 3

	tagGroupGroup  = 1
	tagGroupMerged = 2

	tagStatusStream = 1
	tagStatusData   = 2
	tagStatusText   = 3
)

// EncodeDirectory serializes a service map.
func EncodeDirectory(entries []ServiceEntry) ([]byte, error) {
	return tlv.Encode(func(w *tlv.Writer) error {
		if err := w.StartArray(tlv.Anonymous()); err != nil {
			return err
		}
		for i := range entries {
			if err := encodeEntry(w, &entries[i]); err != nil {
				return err
			}
		}
		return w.EndContainer()
	})
}

func encodeEntry(w *tlv.Writer, e *ServiceEntry) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(tagEntryAction), uint64(e.Action)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(tagEntryID), uint64(e.ID)); err != nil {
		return err
	}
	if e.Info != nil {
		if err := encodeInfo(w, e.Info); err != nil {
			return err
		}
	}
	if e.State != nil {
		if err := encodeServiceState(w, e.State); err != nil {
			return err
		}
	}
	if e.Group != nil {
		if err := w.StartStructure(tlv.ContextTag(tagEntryGroup)); err != nil {
			return err
		}
		if err := w.PutBytes(tlv.ContextTag(tagGroupGroup), e.Group.Group); err != nil {
			return err
		}
		if len(e.Group.MergedTo) > 0 {
			if err := w.PutBytes(tlv.ContextTag(tagGroupMerged), e.Group.MergedTo); err != nil {
				return err
			}
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func encodeInfo(w *tlv.Writer, info *ServiceInfo) error {
	if err := w.StartStructure(tlv.ContextTag(tagEntryInfo)); err != nil {
		return err
	}
	if err := w.PutString(tlv.ContextTag(tagInfoName), info.Name); err != nil {
		return err
	}
	if info.Vendor != "" {
		if err := w.PutString(tlv.ContextTag(tagInfoVendor), info.Vendor); err != nil {
			return err
		}
	}
	caps := make([]uint64, len(info.Capabilities))
	for i, c := range info.Capabilities {
		caps[i] = uint64(c)
	}
	if err := w.PutUints(tlv.ContextTag(tagInfoCapabilities), caps); err != nil {
		return err
	}
	if err := w.PutStrings(tlv.ContextTag(tagInfoDictionaries), info.Dictionaries); err != nil {
		return err
	}
	if len(info.QoS) > 0 {
		if err := w.StartArray(tlv.ContextTag(tagInfoQoS)); err != nil {
			return err
		}
		for _, q := range info.QoS {
			if err := w.StartStructure(tlv.Anonymous()); err != nil {
				return err
			}
			if err := w.PutUint(tlv.ContextTag(tagQoSTimeliness), uint64(q.Timeliness)); err != nil {
				return err
			}
			if err := w.PutUint(tlv.ContextTag(tagQoSRate), uint64(q.Rate)); err != nil {
				return err
			}
			if err := w.PutBool(tlv.ContextTag(tagQoSDynamic), q.Dynamic); err != nil {
				return err
			}
			if err := w.EndContainer(); err != nil {
				return err
			}
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func encodeServiceState(w *tlv.Writer, st *ServiceState) error {
	if err := w.StartStructure(tlv.ContextTag(tagEntryState)); err != nil {
		return err
	}
	up, accepting := uint64(0), uint64(0)
	if st.Up {
		up = 1
	}
	if st.AcceptingRequests {
		accepting = 1
	}
	if err := w.PutUint(tlv.ContextTag(tagStateUp), up); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(tagStateAccepting), accepting); err != nil {
		return err
	}
	if st.Status != nil {
		if err := w.StartStructure(tlv.ContextTag(tagStateStatus)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagStatusStream), uint64(st.Status.Stream)); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagStatusData), uint64(st.Status.Data)); err != nil {
			return err
		}
		if st.Status.Text != "" {
			if err := w.PutString(tlv.ContextTag(tagStatusText), st.Status.Text); err != nil {
				return err
			}
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

// DecodeDirectory parses a directory payload, honouring limits.
func DecodeDirectory(payload []byte, limits Limits) (*Directory, error) {
	limits = limits.WithDefaults()
	d := &Directory{}
	if len(payload) == 0 {
		return d, nil
	}

	r := tlv.NewReader(payload)
	err := eachMember(r, true, func(r *tlv.Reader) error {
		if len(d.Entries) >= limits.MaxServices {
			d.Skipped++
			return r.Skip()
		}
		e, skipped, err := decodeEntry(r, limits)
		if err != nil {
			return err
		}
		d.Skipped += skipped
		d.Entries = append(d.Entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: directory: %w", message.ErrProtocolDecode, err)
	}
	return d, nil
}

func decodeEntry(r *tlv.Reader, limits Limits) (ServiceEntry, int, error) {
	var e ServiceEntry
	skipped := 0
	err := eachMember(r, false, func(r *tlv.Reader) error {
		switch r.Tag().Number() {
		case tagEntryAction:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			e.Action = MapAction(v)
			if !e.Action.IsValid() {
				return ErrInvalidAction
			}
		case tagEntryID:
			v, err := r.Uint()
			if err != nil {
				return err
			}
			e.ID = uint16(v)
		case tagEntryInfo:
			info, n, err := decodeInfo(r, limits)
			if err != nil {
				return err
			}
			skipped += n
			e.Info = info
		case tagEntryState:
			st, err := decodeServiceState(r)
			if err != nil {
				return err
			}
			e.State = st
		case tagEntryGroup:
			g := &ServiceGroup{}
			err := eachMember(r, false, func(r *tlv.Reader) error {
				var err error
				switch r.Tag().Number() {
				case tagGroupGroup:
					g.Group, err = r.Bytes()
				case tagGroupMerged:
					g.MergedTo, err = r.Bytes()
				}
				return err
			})
			if err != nil {
				return err
			}
			e.Group = g
		}
		return nil
	})
	return e, skipped, err
}

func decodeInfo(r *tlv.Reader, limits Limits) (*ServiceInfo, int, error) {
	info := &ServiceInfo{}
	skipped := 0
	err := eachMember(r, false, func(r *tlv.Reader) error {
		switch r.Tag().Number() {
		case tagInfoName:
			v, err := r.String()
			info.Name = v
			return err
		case tagInfoVendor:
			v, err := r.String()
			info.Vendor = v
			return err
		case tagInfoCapabilities:
			caps, n, err := boundedUints(r, limits.MaxCapabilities)
			if err != nil {
				return err
			}
			skipped += n
			for _, c := range caps {
				info.Capabilities = append(info.Capabilities, message.Domain(c))
			}
		case tagInfoDictionaries:
			names, n, err := boundedStrings(r, limits.MaxDictionaries)
			if err != nil {
				return err
			}
			skipped += n
			info.Dictionaries = names
		case tagInfoQoS:
			return eachMember(r, false, func(r *tlv.Reader) error {
				if len(info.QoS) >= limits.MaxQoS {
					skipped++
					return r.Skip()
				}
				var q QoS
				err := eachMember(r, false, func(r *tlv.Reader) error {
					switch r.Tag().Number() {
					case tagQoSTimeliness:
						v, err := r.Uint()
						q.Timeliness = Timeliness(v)
						return err
					case tagQoSRate:
						v, err := r.Uint()
						q.Rate = Rate(v)
						return err
					case tagQoSDynamic:
						v, err := r.Bool()
						q.Dynamic = v
						return err
					}
					return nil
				})
				if err != nil {
					return err
				}
				info.QoS = append(info.QoS, q)
				return nil
			})
		}
		return nil
	})
	return info, skipped, err
}

func decodeServiceState(r *tlv.Reader) (*ServiceState, error) {
	st := &ServiceState{}
	err := eachMember(r, false, func(r *tlv.Reader) error {
		switch r.Tag().Number() {
		case tagStateUp:
			v, err := r.Uint()
			st.Up = v != 0
			return err
		case tagStateAccepting:
			v, err := r.Uint()
			st.AcceptingRequests = v != 0
			return err
		case tagStateStatus:
			s := &message.State{}
			err := eachMember(r, false, func(r *tlv.Reader) error {
				switch r.Tag().Number() {
				case tagStatusStream:
					v, err := r.Uint()
					s.Stream = message.StreamState(v)
					return err
				case tagStatusData:
					v, err := r.Uint()
					s.Data = message.DataState(v)
					return err
				case tagStatusText:
					v, err := r.String()
					s.Text = v
					return err
				}
				return nil
			})
			if err != nil {
				return err
			}
			st.Status = s
		}
		return nil
	})
	return st, err
}

// boundedUints reads at most limit members of the current array and
// reports how many were discarded.
func boundedUints(r *tlv.Reader, limit int) ([]uint64, int, error) {
	var out []uint64
	skipped := 0
	err := eachMember(r, false, func(r *tlv.Reader) error {
		if len(out) >= limit {
			skipped++
			return r.Skip()
		}
		v, err := r.Uint()
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, skipped, err
}

// boundedStrings reads at most limit members of the current array and
// reports how many were discarded.
func boundedStrings(r *tlv.Reader, limit int) ([]string, int, error) {
	var out []string
	skipped := 0
	err := eachMember(r, false, func(r *tlv.Reader) error {
		if len(out) >= limit {
			skipped++
			return r.Skip()
		}
		v, err := r.String()
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, skipped, err
}
