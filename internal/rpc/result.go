package rpc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type Kind int

const (
	OK Kind = iota
	Timeout
	TransportDown
	RemoteError
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Timeout:
		return "timeout"
	case TransportDown:
		return "natsdown"
	case RemoteError:
		return "error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Result is the outcome of one command. Only OK carries a usable payload.
type Result struct {
	Kind    Kind
	Data    []byte
	Message string
}

func (r Result) OK() bool {
	return r.Kind == OK
}

// Soft reports a failure of the channel rather than of the command.
func (r Result) Soft() bool {
	return r.Kind == Timeout || r.Kind == TransportDown
}

// Err maps the result to an error, nil for OK.
func (r Result) Err() error {
	switch r.Kind {
	case OK:
		return nil
	case Timeout:
		if r.Message == ErrAgentOffline.Error() {
			return ErrAgentOffline
		}
		return ErrTimeout
	case TransportDown:
		if r.Message != "" {
			return fmt.Errorf("%w: %s", ErrTransportDown, r.Message)
		}
		return ErrTransportDown
	default:
		return fmt.Errorf("remote error: %s", r.Message)
	}
}

// Decode unpacks an OK payload into v.
func (r Result) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Data) == 0 {
		return nil
	}
	return msgpack.Unmarshal(r.Data, v)
}
