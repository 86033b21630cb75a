package controller

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/qcryo/fridgectl/internal/errors"
)

const tcpIOTimeout = 5 * time.Second

// TCPTransport speaks the line protocol of the lab controller slave
// process: one request per line, one reply per line.
//
//	AUTH <password>      -> OK
//	READ ch1,ch2,...     -> OK ch1=<v>,ch2=<v>,...
//	SET <channel> <v>    -> OK
//
// Any fault reported by the hardware comes back as "ERR <reason>" and is
// surfaced as device_error; connection trouble is link_unavailable.
type TCPTransport struct {
	address  string
	password string

	// mu guards conn and r; Close may be called from another goroutine to
	// force teardown underneath a blocked round trip.
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

func NewTCPTransport(address, password string) *TCPTransport {
	return &TCPTransport{
		address:  address,
		password: password,
	}
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	errFactory := errors.New()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return errFactory.Wrap(ErrConnectFailed, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.r = bufio.NewReader(conn)
	t.mu.Unlock()

	reply, err := t.roundTrip(ctx, "AUTH "+t.password)
	if err != nil {
		t.Close()
		return errFactory.Wrap(ErrHandshakeFailed, err)
	}
	if reply != "OK" {
		t.Close()
		return errFactory.WithData(ErrHandshakeFailed, reply)
	}

	return nil
}

func (t *TCPTransport) Read(ctx context.Context, channels []string) (map[string]float64, error) {
	errFactory := errors.New()

	reply, err := t.roundTrip(ctx, "READ "+strings.Join(channels, ","))
	if err != nil {
		return nil, err
	}

	body, ok := strings.CutPrefix(reply, "OK")
	if !ok {
		return nil, errFactory.WithData(ErrBadResponse, reply)
	}

	values := make(map[string]float64, len(channels))
	for _, pair := range strings.Split(strings.TrimSpace(body), ",") {
		if pair == "" {
			continue
		}
		name, raw, found := strings.Cut(pair, "=")
		if !found {
			return nil, errFactory.WithData(ErrBadResponse, pair)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errFactory.Wrap(ErrBadResponse, err)
		}
		values[name] = v
	}

	return values, nil
}

func (t *TCPTransport) Write(ctx context.Context, setpoint string, value float64) error {
	errFactory := errors.New()

	reply, err := t.roundTrip(ctx, fmt.Sprintf("SET %s %g", setpoint, value))
	if err != nil {
		return err
	}
	if reply != "OK" {
		return errFactory.WithData(ErrBadResponse, reply)
	}

	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.r = nil

	return err
}

func (t *TCPTransport) roundTrip(ctx context.Context, line string) (string, error) {
	errFactory := errors.New()

	t.mu.Lock()
	conn, r := t.conn, t.r
	t.mu.Unlock()

	if conn == nil {
		return "", errFactory.New(ErrLinkUnavailable)
	}

	deadline := time.Now().Add(tcpIOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", errFactory.Wrap(ErrLinkUnavailable, err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return "", errFactory.Wrap(ErrLinkUnavailable, err)
	}

	reply, err := r.ReadString('\n')
	if err != nil {
		return "", errFactory.Wrap(ErrLinkUnavailable, err)
	}
	reply = strings.TrimSpace(reply)

	if reason, ok := strings.CutPrefix(reply, "ERR "); ok {
		return "", errFactory.WithData(ErrDeviceError, reason)
	}

	return reply, nil
}
