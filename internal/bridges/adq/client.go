package adq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nmr-lab-core/internal/spectrometer"
)

// Default timeouts for gateway communication.
const (
	// defaultConnectTimeout bounds dialing and the open handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout bounds one response. Buffer reads of a full
	// record are the slowest request.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout bounds writing one request.
	defaultWriteTimeout = 5 * time.Second

	// defaultTCPHost is used for tcp:// URLs without a host.
	defaultTCPHost = "localhost:6740"
)

// Config holds gateway connection settings.
type Config struct {
	// Connection is the gateway URL (unix:///path or tcp://host:port).
	Connection string

	// Device selects the digitizer when the gateway serves several.
	Device int

	// ConnectTimeout bounds dialing and the open handshake.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout bounds waiting for one response.
	// Default: 30 seconds.
	ReadTimeout time.Duration
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds client counters.
type Stats struct {
	RequestsTotal uint64
	ErrorsTotal   uint64
	LastActivity  time.Time
	Connected     bool
}

// Ensure Client implements spectrometer.Device.
var _ spectrometer.Device = (*Client)(nil)

// Client is a connection to the digitizer gateway.
//
// Thread Safety: all methods are safe for concurrent use; requests are
// serialised so exactly one is in flight.
type Client struct {
	cfg  Config
	conn net.Conn

	// reqMu serialises request/response pairs.
	reqMu  sync.Mutex
	closed atomic.Bool

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics
	requestsTotal atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64
}

// Connect dials the gateway and opens the configured device.
//
// Parameters:
//   - ctx: Context for cancellation of the dial and handshake
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed wrapping the cause
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	client := newClient(conn, cfg)
	if err := client.open(connectCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake failed: %w", ErrConnectionFailed, err)
	}

	return client, nil
}

// Probe reports whether a gateway accepts connections at connURL. It dials
// and hangs up without opening a device.
func Probe(ctx context.Context, connURL string) error {
	network, address, err := parseConnectionURL(connURL)
	if err != nil {
		return err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// newClient wraps an established connection without a handshake.
func newClient(conn net.Conn, cfg Config) *Client {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	c := &Client{cfg: cfg, conn: conn}
	c.lastActivity.Store(time.Now().Unix())
	return c
}

// parseConnectionURL parses a gateway connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", errors.New("unix URL needs a socket path")
		}
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = defaultTCPHost
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

func (c *Client) open(ctx context.Context) error {
	_, err := c.roundTrip(ctx, MsgOpen, encodeOpen(c.cfg.Device))
	return err
}

// WriteRegister implements spectrometer.Device.
func (c *Client) WriteRegister(ctx context.Context, reg int, value, mask uint32) (uint32, error) {
	if reg < 0 || reg >= spectrometer.RegisterCount {
		return 0, fmt.Errorf("%w: %d", spectrometer.ErrInvalidRegister, reg)
	}
	body, err := c.roundTrip(ctx, MsgWriteReg, encodeWriteReg(reg, value, mask))
	if err != nil {
		return 0, fmt.Errorf("write register %d: %w", reg, err)
	}
	return decodeUint32(body)
}

// ReadRegister implements spectrometer.Device.
func (c *Client) ReadRegister(ctx context.Context, reg int) (uint32, error) {
	if reg < 0 || reg >= spectrometer.RegisterCount {
		return 0, fmt.Errorf("%w: %d", spectrometer.ErrInvalidRegister, reg)
	}
	body, err := c.roundTrip(ctx, MsgReadReg, encodeReadReg(reg))
	if err != nil {
		return 0, fmt.Errorf("read register %d: %w", reg, err)
	}
	return decodeUint32(body)
}

// ArmTrigger implements spectrometer.Device.
func (c *Client) ArmTrigger(ctx context.Context) error {
	_, err := c.roundTrip(ctx, MsgArm, nil)
	return err
}

// DisarmTrigger implements spectrometer.Device.
func (c *Client) DisarmTrigger(ctx context.Context) error {
	_, err := c.roundTrip(ctx, MsgDisarm, nil)
	return err
}

// ReadBuffer implements spectrometer.Device.
func (c *Client) ReadBuffer(ctx context.Context, samples int) ([]int16, error) {
	if samples <= 0 || 4*samples > maxFrameSize {
		return nil, fmt.Errorf("%w: %d samples", spectrometer.ErrBufferSize, samples)
	}
	body, err := c.roundTrip(ctx, MsgReadBuffer, encodeReadBuffer(samples))
	if err != nil {
		return nil, fmt.Errorf("read buffer: %w", err)
	}
	buf, err := decodeSamples(body)
	if err != nil {
		return nil, err
	}
	if len(buf) != 2*samples {
		return nil, fmt.Errorf("%w: got %d samples, want %d", spectrometer.ErrBufferSize, len(buf), 2*samples)
	}
	return buf, nil
}

// Close sends a best-effort close request and closes the connection.
// Safe to call multiple times.
func (c *Client) Close() error {
	if c.closed.Load() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	if _, err := c.roundTrip(ctx, MsgClose, nil); err != nil {
		c.logDebug("gateway close request failed", "error", err)
	}
	cancel()

	if c.closed.Swap(true) {
		return nil
	}
	c.logInfo("gateway connection closed")
	return c.conn.Close()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		RequestsTotal: c.requestsTotal.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		LastActivity:  time.Unix(c.lastActivity.Load(), 0),
		Connected:     !c.closed.Load(),
	}
}

// roundTrip sends one request and returns the response body after the
// status byte.
func (c *Client) roundTrip(ctx context.Context, msgType uint16, payload []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	// Cancelling ctx unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	c.requestsTotal.Add(1)

	writeDeadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(writeDeadline) {
		writeDeadline = d
	}
	if err := c.conn.SetWriteDeadline(writeDeadline); err != nil {
		return nil, c.drop(fmt.Errorf("set write deadline: %w", err))
	}
	if _, err := c.conn.Write(EncodeMessage(msgType, payload)); err != nil {
		return nil, c.drop(fmt.Errorf("write: %w", ctxErr(ctx, err)))
	}

	readDeadline := time.Now().Add(c.cfg.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(readDeadline) {
		readDeadline = d
	}
	if err := c.conn.SetReadDeadline(readDeadline); err != nil {
		return nil, c.drop(fmt.Errorf("set read deadline: %w", err))
	}

	// Once a request is on the wire, any failure to read its exact reply
	// leaves the stream position unknown: a late reply would be taken as
	// the answer to the next request.
	respType, respPayload, err := c.readMessage()
	if err != nil {
		return nil, c.drop(ctxErr(ctx, err))
	}
	if respType != msgType {
		return nil, c.drop(fmt.Errorf("%w: response type 0x%04X for request 0x%04X", ErrInvalidMessage, respType, msgType))
	}

	c.lastActivity.Store(time.Now().Unix())

	body, err := splitStatus(respPayload)
	if err != nil {
		c.errorsTotal.Add(1)
		return nil, err
	}
	return body, nil
}

// readMessage reads one frame.
func (c *Client) readMessage() (uint16, []byte, error) {
	var sizeBuf [sizeFieldLen]byte
	if _, err := io.ReadFull(c.conn, sizeBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	size := binary.BigEndian.Uint32(sizeBuf[:])
	if size < 2 {
		return 0, nil, fmt.Errorf("%w: frame size %d", ErrInvalidMessage, size)
	}
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("%w: frame size %d exceeds %d", ErrInvalidMessage, size, maxFrameSize)
	}

	frame := make([]byte, sizeFieldLen+int(size))
	copy(frame, sizeBuf[:])
	if _, err := io.ReadFull(c.conn, frame[sizeFieldLen:]); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}

	return ParseMessage(frame)
}

// drop closes the connection after a failure that leaves the stream out
// of step with the request sequence. Later requests return ErrNotConnected.
func (c *Client) drop(err error) error {
	c.errorsTotal.Add(1)
	if !c.closed.Swap(true) {
		_ = c.conn.Close()
		c.logError("gateway stream out of step, connection closed", err)
	}
	return fmt.Errorf("%w: %w", ErrProtocolDesync, err)
}

// ctxErr prefers the context's error when it caused the failure.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
