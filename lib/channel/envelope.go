// Package channel defines the method-call model of the bridge: envelopes
// carried on the wire, method calls and their three-state results, and the
// codecs that serialize call arguments and result values.
package channel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Kind classifies an envelope.
type Kind uint8

const (
	KindRequest  Kind = 0x01 // method call, expects a response
	KindResponse Kind = 0x02 // response to a request
	KindNotify   Kind = 0x03 // one-way event, no response expected
	KindAck      Kind = 0x04 // acknowledgment of a control envelope
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindNotify:
		return "Notify"
	case KindAck:
		return "Ack"
	default:
		return "Unknown"
	}
}

// Status is the outcome carried by a response envelope.
type Status uint8

const (
	StatusOK             Status = 0x00
	StatusError          Status = 0x01
	StatusNotImplemented Status = 0x02
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "Error"
	case StatusNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// Control channel names reserved by the bridge itself. User channels must
// not use these names.
const (
	ControlReady            = "ready"
	ControlRequestReady     = "request_ready"
	ControlShutdown         = "shutdown"
	ControlShutdownAck      = "shutdown_ack"
	ControlForceShutdown    = "force_shutdown"
	ControlForceShutdownAck = "force_shutdown_ack"
)

// Envelope is the unit exchanged between host and plugin. The channel name
// routes it, the kind says what it is, and for responses the status says
// how the call went. The payload is opaque to the bridge; its meaning is
// fixed by the channel's codec.
type Envelope struct {
	Channel string
	Kind    Kind
	Status  Status
	Payload []byte
}

// MarshalBinary encodes the envelope into its wire format.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	var buffer bytes.Buffer

	nameBytes := []byte(e.Channel)
	if err := binary.Write(&buffer, binary.BigEndian, uint32(len(nameBytes))); err != nil {
		return nil, fmt.Errorf("channel: write name length: %w", err)
	}
	if _, err := buffer.Write(nameBytes); err != nil {
		return nil, fmt.Errorf("channel: write name: %w", err)
	}

	if err := binary.Write(&buffer, binary.BigEndian, uint8(e.Kind)); err != nil {
		return nil, fmt.Errorf("channel: write kind: %w", err)
	}
	if err := binary.Write(&buffer, binary.BigEndian, uint8(e.Status)); err != nil {
		return nil, fmt.Errorf("channel: write status: %w", err)
	}

	if err := binary.Write(&buffer, binary.BigEndian, uint32(len(e.Payload))); err != nil {
		return nil, fmt.Errorf("channel: write payload length: %w", err)
	}
	if _, err := buffer.Write(e.Payload); err != nil {
		return nil, fmt.Errorf("channel: write payload: %w", err)
	}

	return buffer.Bytes(), nil
}

// UnmarshalBinary decodes the envelope from its wire format.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	buffer := bytes.NewReader(data)

	var nameLen uint32
	if err := binary.Read(buffer, binary.BigEndian, &nameLen); err != nil {
		return fmt.Errorf("channel: read name length: %w", err)
	}
	if int(nameLen) > buffer.Len() {
		return fmt.Errorf("channel: name length %d exceeds remaining %d bytes", nameLen, buffer.Len())
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(buffer, nameBytes); err != nil {
		return fmt.Errorf("channel: read name: %w", err)
	}
	e.Channel = string(nameBytes)

	var kindByte uint8
	if err := binary.Read(buffer, binary.BigEndian, &kindByte); err != nil {
		return fmt.Errorf("channel: read kind: %w", err)
	}
	e.Kind = Kind(kindByte)

	var statusByte uint8
	if err := binary.Read(buffer, binary.BigEndian, &statusByte); err != nil {
		return fmt.Errorf("channel: read status: %w", err)
	}
	e.Status = Status(statusByte)

	var payloadLen uint32
	if err := binary.Read(buffer, binary.BigEndian, &payloadLen); err != nil {
		return fmt.Errorf("channel: read payload length: %w", err)
	}
	if int(payloadLen) > buffer.Len() {
		return fmt.Errorf("channel: payload length %d exceeds remaining %d bytes", payloadLen, buffer.Len())
	}
	e.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(buffer, e.Payload); err != nil {
		return fmt.Errorf("channel: read payload: %w", err)
	}

	return nil
}
