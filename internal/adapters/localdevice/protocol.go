// Package localdevice implements a length-prefixed binary protocol for
// talking directly to the MCB and floor-heating thermostat over a plain TCP
// socket, for installations that do not put those devices on MQTT.
package localdevice

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Opcode identifies the kind of frame exchanged with the device.
type Opcode uint8

const (
	OpPing Opcode = iota
	OpSetOutput
	OpGetStatus
	OpStatusReply
	OpSetMode
	OpSetTarget
)

// Frame is one length-prefixed message: a 1-byte opcode followed by a
// variable-length payload.
type Frame struct {
	Op      Opcode
	Payload []byte
}

// serializeFrame writes a frame as a 4-byte big-endian length prefix (of
// the opcode+payload together) followed by the bytes themselves.
func serializeFrame(f Frame) ([]byte, error) {
	body := make([]byte, 1+len(f.Payload))
	body[0] = byte(f.Op)
	copy(body[1:], f.Payload)

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	return append(header, body...), nil
}

// deserializeFrame parses a frame body (without the length prefix, which
// the caller has already consumed to size buffer).
func deserializeFrame(buffer []byte) (*Frame, error) {
	if len(buffer) < 1 {
		return nil, fmt.Errorf("localdevice: frame too short: %d bytes", len(buffer))
	}
	return &Frame{Op: Opcode(buffer[0]), Payload: buffer[1:]}, nil
}

// encodeBool packs a single boolean into a 1-byte payload.
func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func decodeBool(payload []byte) (bool, error) {
	if len(payload) < 1 {
		return false, fmt.Errorf("localdevice: bool payload too short")
	}
	return payload[0] != 0, nil
}

// encodeFloat64 packs a float64 as big-endian bits, matching the
// fixed-width binary.Write convention the frame format is built on.
func encodeFloat64(v float64) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, v)
	return buf.Bytes()
}

func decodeFloat64(payload []byte) (float64, error) {
	if len(payload) < 8 {
		return 0, fmt.Errorf("localdevice: float payload too short")
	}
	var v float64
	buf := bytes.NewReader(payload[:8])
	if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// statusPayload is the wire shape of an OpStatusReply: on-flag, mode byte,
// target and current temperature, in that fixed order.
type statusPayload struct {
	On       bool
	Mode     byte
	TargetC  float64
	CurrentC float64
}

func encodeStatus(s statusPayload) []byte {
	out := encodeBool(s.On)
	out = append(out, s.Mode)
	out = append(out, encodeFloat64(s.TargetC)...)
	out = append(out, encodeFloat64(s.CurrentC)...)
	return out
}

func decodeStatus(payload []byte) (statusPayload, error) {
	if len(payload) < 18 {
		return statusPayload{}, fmt.Errorf("localdevice: status payload too short: %d bytes", len(payload))
	}
	on, err := decodeBool(payload[0:1])
	if err != nil {
		return statusPayload{}, err
	}
	mode := payload[1]
	target, err := decodeFloat64(payload[2:10])
	if err != nil {
		return statusPayload{}, err
	}
	current, err := decodeFloat64(payload[10:18])
	if err != nil {
		return statusPayload{}, err
	}
	return statusPayload{On: on, Mode: mode, TargetC: target, CurrentC: current}, nil
}
