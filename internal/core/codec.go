package core

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the message wire format.
const (
	fieldKind   protowire.Number = 1
	fieldTaskID protowire.Number = 2
	fieldCPU    protowire.Number = 3
	fieldMemory protowire.Number = 4
	fieldBudget protowire.Number = 5
	fieldTried  protowire.Number = 6
)

// ErrInvalidKind is returned when a decoded message carries no usable kind.
var ErrInvalidKind = errors.New("invalid message kind")

// Marshal encodes m in protobuf wire format.
func Marshal(m Message) []byte {
	b := make([]byte, 0, 48+len(m.Task.ID)+24*len(m.Tried))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))
	b = protowire.AppendTag(b, fieldTaskID, protowire.BytesType)
	b = protowire.AppendString(b, m.Task.ID)
	b = appendFloat(b, fieldCPU, m.Task.NeededCPUCycles)
	b = appendFloat(b, fieldMemory, m.Task.NeededMemory)
	b = appendFloat(b, fieldBudget, m.Task.Budget)
	for _, id := range m.Tried {
		b = protowire.AppendTag(b, fieldTried, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	return b
}

// Unmarshal decodes a message produced by Marshal. Unknown fields are
// skipped.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("decode kind: %w", protowire.ParseError(n))
			}
			if v > math.MaxUint8 {
				return Message{}, fmt.Errorf("%w: %d", ErrInvalidKind, v)
			}
			m.Kind = MessageKind(v)
			b = b[n:]
		case num == fieldTaskID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, fmt.Errorf("decode task id: %w", protowire.ParseError(n))
			}
			m.Task.ID = v
			b = b[n:]
		case num == fieldTried && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, fmt.Errorf("decode tried station: %w", protowire.ParseError(n))
			}
			m.Tried = append(m.Tried, v)
			b = b[n:]
		case (num == fieldCPU || num == fieldMemory || num == fieldBudget) && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Message{}, fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
			}
			f := math.Float64frombits(v)
			switch num {
			case fieldCPU:
				m.Task.NeededCPUCycles = f
			case fieldMemory:
				m.Task.NeededMemory = f
			default:
				m.Task.Budget = f
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !m.Kind.Valid() {
		return Message{}, fmt.Errorf("%w: %s", ErrInvalidKind, m.Kind)
	}
	return m, nil
}

func appendFloat(b []byte, num protowire.Number, f float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(f))
}
