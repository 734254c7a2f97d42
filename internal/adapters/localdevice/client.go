package localdevice

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/samsamfire/saunasupervisor/internal/adapters"
)

const ioDeadline = 2 * time.Second

// Client is a TCP connection to a local device speaking the length-prefixed
// frame protocol. One Client is used for the MCB and a second, independent
// Client for the thermostat; both devices speak the same framing.
type Client struct {
	addr   string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

func Dial(addr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{addr: addr, logger: logger.With("service", "[LOCALDEVICE]", "addr", addr)}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, ioDeadline)
	if err != nil {
		return fmt.Errorf("localdevice: dial %s: %w", c.addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// roundTrip sends req and blocks for exactly one reply frame, honouring
// ctx's deadline in addition to the fixed I/O deadline.
func (c *Client) roundTrip(ctx context.Context, req Frame) (*Frame, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		if err := c.connect(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
	}

	deadline := time.Now().Add(ioDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	raw, err := serializeFrame(req)
	if err != nil {
		return nil, err
	}
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write(raw); err != nil {
		c.closeBroken()
		return nil, fmt.Errorf("%w: %v", adapters.ErrAdapterUnreachable, err)
	}

	_ = conn.SetReadDeadline(deadline)
	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		c.closeBroken()
		return nil, fmt.Errorf("%w: %v", adapters.ErrAdapterUnreachable, err)
	}
	length := binary.BigEndian.Uint32(header)
	body := make([]byte, length)
	if _, err := readFull(conn, body); err != nil {
		c.closeBroken()
		return nil, fmt.Errorf("%w: %v", adapters.ErrAdapterUnreachable, err)
	}
	return deserializeFrame(body)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Client) closeBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close implements adapters.McbDevice.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// TurnOn implements adapters.McbDevice.
func (c *Client) TurnOn(ctx context.Context) error {
	return c.setOutput(ctx, true)
}

// TurnOff implements adapters.McbDevice.
func (c *Client) TurnOff(ctx context.Context) error {
	return c.setOutput(ctx, false)
}

func (c *Client) setOutput(ctx context.Context, on bool) error {
	_, err := c.roundTrip(ctx, Frame{Op: OpSetOutput, Payload: encodeBool(on)})
	return err
}

// Thermostat adapter methods. Client satisfies adapters.Thermostat in
// addition to adapters.McbDevice; a deployment picks one role per dialled
// address via configuration.

func (c *Client) SetMode(ctx context.Context, mode adapters.ThermostatMode) error {
	_, err := c.roundTrip(ctx, Frame{Op: OpSetMode, Payload: []byte{byte(mode)}})
	return err
}

func (c *Client) SetTargetC(ctx context.Context, celsius float64) error {
	_, err := c.roundTrip(ctx, Frame{Op: OpSetTarget, Payload: encodeFloat64(celsius)})
	return err
}

func (c *Client) Status(ctx context.Context) (adapters.ThermostatStatus, error) {
	reply, err := c.roundTrip(ctx, Frame{Op: OpGetStatus})
	if err != nil {
		return adapters.ThermostatStatus{}, err
	}
	if reply.Op != OpStatusReply {
		return adapters.ThermostatStatus{}, fmt.Errorf("localdevice: unexpected reply opcode %d", reply.Op)
	}
	status, err := decodeStatus(reply.Payload)
	if err != nil {
		return adapters.ThermostatStatus{}, err
	}
	return adapters.ThermostatStatus{
		Mode:     adapters.ThermostatMode(status.Mode),
		Action:   actionForStatus(status),
		TargetC:  status.TargetC,
		CurrentC: status.CurrentC,
	}, nil
}

// McbStatus reads the MCB's on/off state by reusing the thermostat status
// exchange and keeping only the On field: the MCB role dials a different
// physical device over the same frame protocol, and a plain breaker has no
// mode, target or current reading to report.
func (c *Client) McbStatus(ctx context.Context) (bool, error) {
	reply, err := c.roundTrip(ctx, Frame{Op: OpGetStatus})
	if err != nil {
		return false, err
	}
	if reply.Op != OpStatusReply {
		return false, fmt.Errorf("localdevice: unexpected reply opcode %d", reply.Op)
	}
	status, err := decodeStatus(reply.Payload)
	if err != nil {
		return false, err
	}
	return status.On, nil
}

func actionForStatus(s statusPayload) string {
	switch {
	case !s.On:
		return "idle"
	case s.CurrentC < s.TargetC:
		return "heating"
	default:
		return "warming"
	}
}
