package plclink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"pcs-simulator/internal/logging"
)

// Reporter sends the PLC image over UDP at a fixed cadence.
type Reporter struct {
	conn     net.Conn
	builder  *ImageBuilder
	interval time.Duration
	log      logging.Logger
}

func NewReporter(addr string, interval time.Duration, builder *ImageBuilder, log logging.Logger) (*Reporter, error) {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logging.Noop()
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("plclink: dial %s: %w", addr, err)
	}
	return &Reporter{
		conn:     conn,
		builder:  builder,
		interval: interval,
		log:      log.With(logging.String("component", "plc_reporter")),
	}, nil
}

// Run sends one image per tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	defer r.conn.Close()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reporting to PLC", logging.String("addr", r.conn.RemoteAddr().String()), logging.Any("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			img := r.builder.Snapshot()
			if _, err := r.conn.Write(img.Marshal()); err != nil {
				r.log.Warn("image send failed", logging.Err(err))
			}
		}
	}
}

// CommandHandler consumes one decoded PLC command datagram.
type CommandHandler func(CommandAll)

// Listener receives PLC command datagrams and hands them to the handler.
type Listener struct {
	pc      net.PacketConn
	handler CommandHandler
	log     logging.Logger
}

func NewListener(addr string, handler CommandHandler, log logging.Logger) (*Listener, error) {
	if log == nil {
		log = logging.Noop()
	}
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("plclink: listen %s: %w", addr, err)
	}
	return &Listener{
		pc:      pc,
		handler: handler,
		log:     log.With(logging.String("component", "plc_listener")),
	}, nil
}

// Addr reports the bound address, useful when the configured port is 0.
func (l *Listener) Addr() net.Addr { return l.pc.LocalAddr() }

// Run reads datagrams until ctx is cancelled. A malformed datagram only
// logs; the next one is read normally.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.pc.Close()
	}()

	l.log.Info("listening for PLC commands", logging.String("addr", l.pc.LocalAddr().String()))
	buf := make([]byte, 64*1024)
	for {
		n, from, err := l.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("plclink: read: %w", err)
		}
		all, err := DecodeCommandAll(buf[:n])
		if err != nil {
			l.log.Warn("bad command datagram", logging.String("from", from.String()), logging.Err(err))
			continue
		}
		l.handler(all)
	}
}
