package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/bytedance/sonic"
)

type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes m inside a typed envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := sonic.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return sonic.Marshal(envelope{Type: m.Type(), Payload: payload})
}

// Decode parses an envelope back into its concrete message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fault.Wrap(fault.KindProtocol, "decode", "", err)
	}

	switch env.Type {
	case TypeStart:
		return decodeAs[Start](env)
	case TypeStdin:
		return decodeAs[Stdin](env)
	case TypeStdout:
		return decodeAs[Stdout](env)
	case TypeStderr:
		return decodeAs[Stderr](env)
	case TypeError:
		return decodeAs[Error](env)
	case TypeWrite:
		return decodeAs[Write](env)
	case TypeExit:
		return decodeAs[Exit](env)
	default:
		return nil, &fault.Error{Kind: fault.KindProtocol, Op: "decode", Detail: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

func decodeAs[T Message](env envelope) (Message, error) {
	var m T
	if len(env.Payload) > 0 {
		if err := sonic.Unmarshal(env.Payload, &m); err != nil {
			return nil, fault.Wrap(fault.KindProtocol, "decode "+string(env.Type), "", err)
		}
	}
	return m, nil
}
