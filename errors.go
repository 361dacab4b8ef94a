package avcore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures per spec.md §7, so callers can decide
// whether a given error is fatal, transient, or safe to ignore without
// string-matching messages.
type ErrorKind uint8

const (
	// KindFatalInit: cannot allocate queues, open sinks, or register codecs.
	KindFatalInit ErrorKind = iota
	// KindIOTransient: read returned EOF mid-stream or a recoverable I/O error.
	KindIOTransient
	// KindIOPermanent: the underlying byte stream is broken.
	KindIOPermanent
	// KindDecodeSkip: a packet failed to decode; dropped, worker continues.
	KindDecodeSkip
	// KindStaleSerial: queued item from a superseded epoch; silently dropped.
	KindStaleSerial
	// KindConfigMismatch: frame parameters changed; chain reconfigured.
	KindConfigMismatch
	// KindBackendRefusal: sink cannot honor the requested audio format.
	KindBackendRefusal
)

func (k ErrorKind) String() string {
	switch k {
	case KindFatalInit:
		return "fatal-init"
	case KindIOTransient:
		return "io-transient"
	case KindIOPermanent:
		return "io-permanent"
	case KindDecodeSkip:
		return "decode-skip"
	case KindStaleSerial:
		return "stale-serial"
	case KindConfigMismatch:
		return "config-mismatch"
	case KindBackendRefusal:
		return "backend-refusal"
	default:
		return "unknown"
	}
}

// Error wraps a cause with an ErrorKind so errors.As/errors.Is keep working
// against both the kind and the underlying cause (e.g. a reisen error).
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func wrapErr(kind ErrorKind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: cause}
}

// IsKind reports whether err (or any error it wraps) was tagged with kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

var (
	ErrNoPlayableStreams  = errors.New("avcore: input has no audio or video stream to play")
	ErrNilAudioSink       = errors.New("avcore: input has audio but no audio sink was provided")
	ErrSampleRateMismatch = errors.New("avcore: audio sink sample rate does not match input")
	ErrTooManyChannels    = errors.New("avcore: audio streams with more than 2 channels are not supported")
	ErrSeekUnsupported    = errors.New("avcore: seek is not supported on this input")
)
