package rdm

import (
	"fmt"

	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/tlv"
)

// DefaultApplicationID is sent when the caller does not set one.
const DefaultApplicationID = "256"

// LoginAttrib holds the attributes carried in a login key.
type LoginAttrib struct {
	ApplicationID    string
	ApplicationName  string
	Position         string
	InstanceID       string
	Role             Role
	SingleOpen       bool
	AllowSuspectData bool
}

// LoginRequest describes the consumer's login.
type LoginRequest struct {
	StreamID int32
	UserName string
	Attrib   LoginAttrib
}

const (
	tagLoginAppID        = 1
	tagLoginAppName      = 2
	tagLoginPosition     = 3
	tagLoginRole         = 4
	tagLoginInstanceID   = 5
	tagLoginSingleOpen   = 6
	tagLoginAllowSuspect = 7
)

// Msg builds the request message.
func (l *LoginRequest) Msg() (*message.Msg, error) {
	attrib, err := l.Attrib.Encode()
	if err != nil {
		return nil, err
	}
	streamID := l.StreamID
	if streamID == 0 {
		streamID = message.StreamLogin
	}
	return &message.Msg{
		Class:    message.ClassRequest,
		Domain:   message.DomainLogin,
		StreamID: streamID,
		Flags:    message.FlagStreaming,
		Key: message.Key{
			Name:     l.UserName,
			NameType: message.NameTypeUserName,
			Attrib:   attrib,
		},
		HasKey: true,
	}, nil
}

// Encode serializes the attributes.
func (a *LoginAttrib) Encode() ([]byte, error) {
	return tlv.Encode(func(w *tlv.Writer) error {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		strs := []struct {
			tag uint8
			v   string
		}{
			{tagLoginAppID, a.ApplicationID},
			{tagLoginAppName, a.ApplicationName},
			{tagLoginPosition, a.Position},
			{tagLoginInstanceID, a.InstanceID},
		}
		for _, s := range strs {
			if s.v == "" {
				continue
			}
			if err := w.PutString(tlv.ContextTag(s.tag), s.v); err != nil {
				return err
			}
		}
		if err := w.PutUint(tlv.ContextTag(tagLoginRole), uint64(a.Role)); err != nil {
			return err
		}
		if err := w.PutBool(tlv.ContextTag(tagLoginSingleOpen), a.SingleOpen); err != nil {
			return err
		}
		if err := w.PutBool(tlv.ContextTag(tagLoginAllowSuspect), a.AllowSuspectData); err != nil {
			return err
		}
		return w.EndContainer()
	})
}

// DecodeLoginAttrib parses login attributes from a key. An empty input
// yields zero attributes.
func DecodeLoginAttrib(data []byte) (LoginAttrib, error) {
	var a LoginAttrib
	if len(data) == 0 {
		return a, nil
	}
	err := eachMember(tlv.NewReader(data), true, func(r *tlv.Reader) error {
		var err error
		switch r.Tag().Number() {
		case tagLoginAppID:
			a.ApplicationID, err = r.String()
		case tagLoginAppName:
			a.ApplicationName, err = r.String()
		case tagLoginPosition:
			a.Position, err = r.String()
		case tagLoginInstanceID:
			a.InstanceID, err = r.String()
		case tagLoginRole:
			var v uint64
			v, err = r.Uint()
			a.Role = Role(v)
		case tagLoginSingleOpen:
			a.SingleOpen, err = r.Bool()
		case tagLoginAllowSuspect:
			a.AllowSuspectData, err = r.Bool()
		}
		return err
	})
	if err != nil {
		return a, fmt.Errorf("%w: login attrib: %w", message.ErrProtocolDecode, err)
	}
	return a, nil
}

// LoginRefresh builds a provider's login response accepting the request.
func LoginRefresh(req *message.Msg, attrib LoginAttrib) (*message.Msg, error) {
	enc, err := attrib.Encode()
	if err != nil {
		return nil, err
	}
	return &message.Msg{
		Class:    message.ClassRefresh,
		Domain:   message.DomainLogin,
		StreamID: req.StreamID,
		Flags:    message.FlagSolicited | message.FlagRefreshComplete,
		State: message.State{
			Stream: message.StreamStateOpen,
			Data:   message.DataStateOk,
			Text:   "Login accepted",
		},
		HasState: true,
		Key: message.Key{
			Name:     req.Key.Name,
			NameType: req.Key.NameType,
			Attrib:   enc,
		},
		HasKey: true,
	}, nil
}

// StatusMsg builds a status message carrying the given state.
func StatusMsg(domain message.Domain, streamID int32, state message.State) *message.Msg {
	return &message.Msg{
		Class:    message.ClassStatus,
		Domain:   domain,
		StreamID: streamID,
		State:    state,
		HasState: true,
	}
}

// eachMember enters the container at the reader's next (or current, when
// advance is false) element and calls fn for each member.
func eachMember(r *tlv.Reader, advance bool, fn func(r *tlv.Reader) error) error {
	if advance {
		if err := r.Next(); err != nil {
			return err
		}
	}
	if err := r.EnterContainer(); err != nil {
		return err
	}
	for {
		if err := r.Next(); err != nil {
			return err
		}
		if r.IsEndOfContainer() {
			break
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return r.ExitContainer()
}
