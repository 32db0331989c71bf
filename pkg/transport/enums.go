package transport

// ChannelState is the lifecycle state of a Channel.
type ChannelState int

const (
	// StateDisconnected is the zero value before Connect.
	StateDisconnected ChannelState = iota
	// StateConnecting means the dial is in progress.
	StateConnecting
	// StateInitializing means the socket is up and channel setup
	// (encryption, connect handshake) is in progress.
	StateInitializing
	// StateActive means the channel is ready for messages.
	StateActive
	// StateClosed means the channel was closed locally or by the peer.
	StateClosed
	// StateFailed means setup or I/O failed.
	StateFailed
)

// String returns the string representation of the channel state.
func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateInitializing:
		return "INITIALIZING"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if the state is a known value.
func (s ChannelState) IsValid() bool {
	return s >= StateDisconnected && s <= StateFailed
}

// InitResult is the outcome of one Init call.
type InitResult int

const (
	// InitInProgress means Init must be called again after the next poll.
	InitInProgress InitResult = iota
	// InitDescriptorChanged means the caller must unregister the previous
	// descriptor and register Descriptor() before calling Init again.
	InitDescriptorChanged
	// InitActive means the channel is ready.
	InitActive
	// InitFailed means setup failed. The channel must be closed.
	InitFailed
)

// String returns the string representation of the init result.
func (r InitResult) String() string {
	switch r {
	case InitInProgress:
		return "InProgress"
	case InitDescriptorChanged:
		return "DescriptorChanged"
	case InitActive:
		return "Active"
	case InitFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// WriteResult is the outcome of a Write or FlushQueue.Submit call.
type WriteResult int

const (
	// WriteSent means all bytes reached the socket.
	WriteSent WriteResult = iota
	// WriteStillQueued means bytes remain queued. Keep write interest.
	WriteStillQueued
	// WriteCallAgain means the buffer was larger than a fragment and only
	// part of it was queued. Call Write again with the same buffer.
	WriteCallAgain
	// WriteFlushFailed means the buffer was queued but the internal flush
	// could not complete. The bytes are still pending.
	WriteFlushFailed
)

// String returns the string representation of the write result.
func (r WriteResult) String() string {
	switch r {
	case WriteSent:
		return "Sent"
	case WriteStillQueued:
		return "StillQueued"
	case WriteCallAgain:
		return "CallAgain"
	case WriteFlushFailed:
		return "FlushFailed"
	default:
		return "Unknown"
	}
}

// ReadResult classifies the unit returned by Read.
type ReadResult int

const (
	// ReadWouldBlock means no complete message is available.
	ReadWouldBlock ReadResult = iota
	// ReadData means a complete message payload was returned.
	ReadData
	// ReadPing means a heartbeat arrived.
	ReadPing
)

// String returns the string representation of the read result.
func (r ReadResult) String() string {
	switch r {
	case ReadWouldBlock:
		return "WouldBlock"
	case ReadData:
		return "Data"
	case ReadPing:
		return "Ping"
	default:
		return "Unknown"
	}
}

// InitPolicy decides what an empty poll means while a channel is still
// initializing.
type InitPolicy int

const (
	// InitRetryUntilDeadline keeps polling until ConnectTimeout has
	// elapsed since Connect.
	InitRetryUntilDeadline InitPolicy = iota
	// InitFailOnEmptyPoll treats the first empty poll as a timeout.
	InitFailOnEmptyPoll
)

// String returns the string representation of the policy.
func (p InitPolicy) String() string {
	switch p {
	case InitRetryUntilDeadline:
		return "retry"
	case InitFailOnEmptyPoll:
		return "fail-fast"
	default:
		return "unknown"
	}
}

// IsValid returns true if the policy is a known value.
func (p InitPolicy) IsValid() bool {
	return p == InitRetryUntilDeadline || p == InitFailOnEmptyPoll
}

// ParseInitPolicy parses the names returned by String.
func ParseInitPolicy(s string) (InitPolicy, bool) {
	switch s {
	case "retry", "":
		return InitRetryUntilDeadline, true
	case "fail-fast":
		return InitFailOnEmptyPoll, true
	}
	return 0, false
}
