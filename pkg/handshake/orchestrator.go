// Package handshake sequences session establishment with a provider:
// login, source directory, dictionary download, then ready.
//
// The Orchestrator does no I/O. Handle maps the current stage and one
// decoded message to the next stage plus the messages to send, so every
// transition can be exercised without a socket.
package handshake

import (
	"fmt"
	"os/user"

	"github.com/backkem/feedconsumer/pkg/dictionary"
	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/rdm"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// DefaultApplicationName is sent in the login when none is configured.
const DefaultApplicationName = "feed-consumer"

// Config configures an Orchestrator.
type Config struct {
	// ServiceName is the directory service to use. Required.
	ServiceName string

	// UserName is the login user. Default: the current OS user.
	UserName string

	// ApplicationID is the login application id. Default: "256".
	ApplicationID string

	// ApplicationName is the login application name.
	ApplicationName string

	// Position is the login position, "<ip>/net". Default: "localhost/net".
	Position string

	// InstanceID distinguishes this consumer instance. Default: a random UUID.
	InstanceID string

	// Dictionary receives downloaded dictionaries. Artifacts it already
	// holds, typically from local files, are not requested. If nil, an
	// empty dictionary is used.
	Dictionary *dictionary.Dictionary

	// Items are market price items requested once the session is ready.
	Items []string

	// Limits bound directory decoding. Zero fields use rdm.DefaultLimits.
	Limits rdm.Limits

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.UserName == "" {
		c.UserName = "user"
		if u, err := user.Current(); err == nil && u.Username != "" {
			c.UserName = u.Username
		}
	}
	if c.ApplicationID == "" {
		c.ApplicationID = rdm.DefaultApplicationID
	}
	if c.ApplicationName == "" {
		c.ApplicationName = DefaultApplicationName
	}
	if c.Position == "" {
		c.Position = "localhost/net"
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	if c.Dictionary == nil {
		c.Dictionary = dictionary.New()
	}
	c.Limits = c.Limits.WithDefaults()
}

// Result is the effect of handling one message.
type Result struct {
	// Stage is the stage after the message.
	Stage Stage

	// Outbound are the messages to send, in order.
	Outbound []*message.Msg

	// Deliver is set once ready, for messages that belong to the
	// application.
	Deliver *message.Msg
}

// artifact is one of the two dictionaries the session needs.
type artifact struct {
	name     string
	streamID int32
	kind     dictionary.Type
}

var artifacts = []artifact{
	{rdm.FieldDictionaryName, message.StreamFieldDictionary, dictionary.TypeFieldDefinitions},
	{rdm.EnumDictionaryName, message.StreamEnumDictionary, dictionary.TypeEnumTables},
}

// Orchestrator drives one session's handshake. It is not safe for
// concurrent use.
type Orchestrator struct {
	cfg   Config
	log   logging.LeveledLogger
	stage Stage
	err   error

	started bool

	services map[uint16]*rdm.Service
	target   *rdm.Service

	reasm     *dictionary.Reassembler
	requested []string

	nextItem int32
	items    map[int32]string
}

// New creates an Orchestrator in StageLoggingIn.
func New(config Config) (*Orchestrator, error) {
	if config.ServiceName == "" {
		return nil, fmt.Errorf("%w: service name is required", ErrInvalidConfig)
	}
	config.applyDefaults()

	o := &Orchestrator{
		cfg:      config,
		stage:    StageLoggingIn,
		services: make(map[uint16]*rdm.Service),
		reasm: dictionary.NewReassembler(dictionary.ReassemblerConfig{
			Dictionary:    config.Dictionary,
			LoggerFactory: config.LoggerFactory,
		}),
		nextItem: message.StreamFirstItem,
		items:    make(map[int32]string),
	}
	if config.LoggerFactory != nil {
		o.log = config.LoggerFactory.NewLogger("handshake")
	}
	return o, nil
}

// Stage returns the current stage.
func (o *Orchestrator) Stage() Stage {
	return o.stage
}

// Err returns the error that failed the handshake, if any.
func (o *Orchestrator) Err() error {
	return o.err
}

// Target returns the resolved target service, or nil before the directory
// named it.
func (o *Orchestrator) Target() *rdm.Service {
	return o.target
}

// Dictionary returns the session dictionary.
func (o *Orchestrator) Dictionary() *dictionary.Dictionary {
	return o.cfg.Dictionary
}

// Requested returns the dictionary names requested from the provider.
func (o *Orchestrator) Requested() []string {
	return o.requested
}

// Items returns the item names by stream id, once requested.
func (o *Orchestrator) Items() map[int32]string {
	return o.items
}

// Start returns the login request.
func (o *Orchestrator) Start() ([]*message.Msg, error) {
	if o.started {
		return nil, ErrAlreadyStarted
	}
	o.started = true

	req := &rdm.LoginRequest{
		StreamID: message.StreamLogin,
		UserName: o.cfg.UserName,
		Attrib: rdm.LoginAttrib{
			ApplicationID:   o.cfg.ApplicationID,
			ApplicationName: o.cfg.ApplicationName,
			Position:        o.cfg.Position,
			InstanceID:      o.cfg.InstanceID,
			Role:            rdm.RoleConsumer,
		},
	}
	m, err := req.Msg()
	if err != nil {
		return nil, fmt.Errorf("handshake: encode login: %w", err)
	}
	if o.log != nil {
		o.log.Infof("logging in as %q (instance %s)", o.cfg.UserName, o.cfg.InstanceID)
	}
	return []*message.Msg{m}, nil
}

// CloseLogin returns the message that closes the login stream.
func (o *Orchestrator) CloseLogin() *message.Msg {
	return rdm.CloseMsg(message.DomainLogin, message.StreamLogin)
}

// Handle applies one inbound message.
func (o *Orchestrator) Handle(m *message.Msg) (Result, error) {
	if !o.started {
		return Result{Stage: o.stage}, ErrNotStarted
	}
	if o.stage == StageFailed {
		return Result{Stage: o.stage}, o.err
	}

	var (
		res Result
		err error
	)
	switch m.Domain {
	case message.DomainLogin:
		res, err = o.handleLogin(m)
	case message.DomainSource:
		res, err = o.handleDirectory(m)
	case message.DomainDictionary:
		res, err = o.handleDictionary(m)
	default:
		res = o.handleOther(m)
	}
	if err != nil {
		return o.fail(err)
	}
	res.Stage = o.stage
	return res, nil
}

func (o *Orchestrator) fail(err error) (Result, error) {
	if o.log != nil {
		o.log.Errorf("handshake failed in %s: %v", o.stage, err)
	}
	o.stage = StageFailed
	o.err = err
	return Result{Stage: StageFailed}, err
}

func (o *Orchestrator) advance(to Stage) {
	if o.log != nil {
		o.log.Infof("handshake %s -> %s", o.stage, to)
	}
	o.stage = to
}

func (o *Orchestrator) ignore(m *message.Msg) {
	if o.log != nil {
		o.log.Debugf("ignoring %s in %s", m, o.stage)
	}
}

// loginVerdict judges a login response. ok is false when the message
// neither accepts nor rejects the login.
func loginVerdict(m *message.Msg) (ok bool, err error) {
	if m.Class == message.ClassClose {
		return false, fmt.Errorf("%w: provider closed login stream", ErrLoginRejected)
	}
	if !m.HasState {
		return false, nil
	}
	if m.State.Stream.IsClosed() || m.State.Data == message.DataStateSuspect {
		return false, fmt.Errorf("%w: %s", ErrLoginRejected, m.State)
	}
	return m.State.IsOpenOk(), nil
}

func (o *Orchestrator) handleLogin(m *message.Msg) (Result, error) {
	switch m.Class {
	case message.ClassRefresh, message.ClassUpdate, message.ClassStatus, message.ClassClose:
	default:
		o.ignore(m)
		return Result{}, nil
	}

	ok, err := loginVerdict(m)
	if err != nil {
		return Result{}, err
	}
	if o.stage != StageLoggingIn {
		if o.stage == StageReady {
			return Result{Deliver: m}, nil
		}
		return Result{}, nil
	}
	if !ok {
		o.ignore(m)
		return Result{}, nil
	}

	if o.log != nil {
		if attrib, err := rdm.DecodeLoginAttrib(m.Key.Attrib); err == nil && attrib.ApplicationName != "" {
			o.log.Infof("logged in to %s", attrib.ApplicationName)
		}
	}
	o.advance(StageAwaitingDirectory)
	return Result{Outbound: []*message.Msg{
		rdm.DirectoryRequest(message.StreamSourceDirectory, rdm.DefaultDirectoryFilter),
	}}, nil
}

func (o *Orchestrator) handleDirectory(m *message.Msg) (Result, error) {
	// No directory was requested yet.
	if o.stage == StageLoggingIn {
		o.ignore(m)
		return Result{}, nil
	}
	switch m.Class {
	case message.ClassRefresh, message.ClassUpdate:
		if err := o.applyDirectory(m); err != nil {
			return Result{}, err
		}
	case message.ClassStatus, message.ClassClose:
		if m.Class == message.ClassClose || (m.HasState && m.State.Stream.IsClosed()) {
			if o.stage == StageAwaitingDirectory {
				return Result{}, fmt.Errorf("%w: directory stream closed: %s", ErrServiceUnavailable, m.State)
			}
		}
		if o.stage == StageReady {
			return Result{Deliver: m}, nil
		}
		o.ignore(m)
		return Result{}, nil
	default:
		o.ignore(m)
		return Result{}, nil
	}

	switch o.stage {
	case StageAwaitingDirectory:
		if m.Class != message.ClassRefresh || !m.Flags.Has(message.FlagRefreshComplete) {
			return Result{}, nil
		}
		return o.resolveTarget()
	case StageReady:
		return Result{Deliver: m}, nil
	}
	return Result{}, nil
}

// applyDirectory merges the entries of a directory message into the known
// services and resolves the target by name, once.
func (o *Orchestrator) applyDirectory(m *message.Msg) error {
	dir, err := rdm.DecodeDirectory(m.Payload, o.cfg.Limits)
	if err != nil {
		return err
	}
	if dir.Skipped > 0 && o.log != nil {
		o.log.Debugf("directory: skipped %d members over limits", dir.Skipped)
	}

	for _, e := range dir.Entries {
		if e.Action == rdm.MapActionDelete {
			if svc, ok := o.services[e.ID]; ok {
				svc.Up, svc.AcceptingRequests = false, false
				delete(o.services, e.ID)
			}
			continue
		}
		svc, ok := o.services[e.ID]
		if !ok {
			svc = &rdm.Service{}
			o.services[e.ID] = svc
		}
		svc.Apply(e)
		if o.target == nil && svc.Name == o.cfg.ServiceName {
			o.target = svc
			if o.log != nil {
				o.log.Infof("service %q resolved to id %d", svc.Name, svc.ID)
			}
		}
	}
	return nil
}

func (o *Orchestrator) resolveTarget() (Result, error) {
	t := o.target
	if t == nil {
		return Result{}, fmt.Errorf("%w: %q not in directory", ErrServiceUnavailable, o.cfg.ServiceName)
	}
	if !t.Available() {
		return Result{}, fmt.Errorf("%w: %q up=%t accepting=%t",
			ErrServiceUnavailable, t.Name, t.Up, t.AcceptingRequests)
	}
	if o.log != nil {
		o.log.Debugf("service %q: capabilities %v, dictionaries %v", t.Name, t.Capabilities, t.Dictionaries)
	}

	o.advance(StageLoadingDictionary)
	dict := o.cfg.Dictionary
	var out []*message.Msg
	for _, a := range artifacts {
		if dict.Loaded(a.kind) {
			if o.log != nil {
				o.log.Debugf("%s already loaded, not requesting", a.name)
			}
			continue
		}
		if !t.HasCapability(message.DomainDictionary) {
			return Result{}, fmt.Errorf("%w: %q does not provide %s",
				ErrCapabilityUnsupported, t.Name, message.DomainDictionary)
		}
		if !t.OffersDictionary(a.name) {
			return Result{}, fmt.Errorf("%w: %q does not offer %s", ErrDictionaryLoad, t.Name, a.name)
		}
		o.reasm.Track(a.streamID, a.name, a.kind)
		o.requested = append(o.requested, a.name)
		out = append(out, rdm.DictionaryRequest(a.streamID, a.name, t.ID, rdm.VerbosityVerbose))
	}

	ready, err := o.checkReady()
	if err != nil {
		return Result{}, err
	}
	return Result{Outbound: append(out, ready...)}, nil
}

func (o *Orchestrator) handleDictionary(m *message.Msg) (Result, error) {
	if o.stage == StageReady {
		return Result{Deliver: m}, nil
	}
	if o.stage != StageLoadingDictionary {
		o.ignore(m)
		return Result{}, nil
	}
	d, ok := o.reasm.Download(m.StreamID)
	if !ok {
		o.ignore(m)
		return Result{}, nil
	}

	switch m.Class {
	case message.ClassRefresh:
		if m.HasState && m.State.Stream.IsClosed() {
			return Result{}, fmt.Errorf("%w: %s: %s", ErrDictionaryLoad, d.Name, m.State)
		}
		progress, err := o.reasm.Consume(m.StreamID, dictionary.Fragment{
			Payload: m.Payload,
			Final:   m.Flags.Has(message.FlagRefreshComplete),
		})
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrDictionaryLoad, err)
		}
		if progress != dictionary.Complete {
			return Result{}, nil
		}
		out, err := o.checkReady()
		if err != nil {
			return Result{}, err
		}
		return Result{Outbound: out}, nil

	case message.ClassStatus, message.ClassClose:
		if m.Class == message.ClassClose || (m.HasState && m.State.Stream.IsClosed()) {
			return Result{}, fmt.Errorf("%w: %s stream closed: %s", ErrDictionaryLoad, d.Name, m.State)
		}
	}
	o.ignore(m)
	return Result{}, nil
}

// checkReady moves to StageReady once both dictionaries are loaded and
// returns the item requests.
func (o *Orchestrator) checkReady() ([]*message.Msg, error) {
	dict := o.cfg.Dictionary
	if !dict.FieldsLoaded() || !dict.EnumsLoaded() {
		return nil, nil
	}
	if !o.target.HasCapability(message.DomainMarketPrice) {
		return nil, fmt.Errorf("%w: %q does not provide %s",
			ErrCapabilityUnsupported, o.target.Name, message.DomainMarketPrice)
	}
	o.advance(StageReady)

	out := make([]*message.Msg, 0, len(o.cfg.Items))
	for _, name := range o.cfg.Items {
		id := o.nextItem
		o.nextItem++
		o.items[id] = name
		out = append(out, rdm.ItemRequest(message.DomainMarketPrice, id, name, o.target.ID))
	}
	return out, nil
}

func (o *Orchestrator) handleOther(m *message.Msg) Result {
	if o.stage == StageReady {
		return Result{Deliver: m}
	}
	o.ignore(m)
	return Result{}
}
