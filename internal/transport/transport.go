// Package transport binds the two redundant LAN sockets. Received frames
// are tagged with their LAN and submitted to the pipeline; the send side
// fans one encoded frame out to every LAN that came up. GOOSE frames
// travel UDP-encapsulated here, which keeps the lab setup free of raw
// socket privileges.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"pcs-simulator/internal/logging"
	"pcs-simulator/internal/store"
)

// maxFrameSize bounds one received datagram; GOOSE frames fit well under
// a jumbo-free Ethernet MTU.
const maxFrameSize = 2048

// Sink receives tagged frames; the pipeline's submit wraps into one. The
// return value reports acceptance; the pipeline counts rejects itself.
type Sink func(lan store.LAN, raw []byte) bool

// Config carries the listen and peer addresses per LAN. An empty listen
// address disables that LAN's receive path.
type Config struct {
	Lan1Listen string
	Lan2Listen string
	Lan1Peer   string
	Lan2Peer   string
}

type lanLink struct {
	lan  store.LAN
	pc   net.PacketConn
	peer net.Conn
}

// Dual is the two-LAN transport. It starts degraded when one LAN cannot
// bind; only losing both is fatal.
type Dual struct {
	links []*lanLink
	sink  Sink
	log   logging.Logger
	wg    sync.WaitGroup
}

func New(cfg Config, sink Sink, log logging.Logger) (*Dual, error) {
	if log == nil {
		log = logging.Noop()
	}
	d := &Dual{sink: sink, log: log.With(logging.String("component", "transport"))}

	var errs []error
	for _, lc := range []struct {
		lan    store.LAN
		listen string
		peer   string
	}{
		{store.LAN1, cfg.Lan1Listen, cfg.Lan1Peer},
		{store.LAN2, cfg.Lan2Listen, cfg.Lan2Peer},
	} {
		link, err := openLink(lc.lan, lc.listen, lc.peer)
		if err != nil {
			errs = append(errs, err)
			d.log.Warn("LAN unavailable, continuing degraded", logging.String("lan", lc.lan.String()), logging.Err(err))
			continue
		}
		d.links = append(d.links, link)
	}
	if len(d.links) == 0 {
		return nil, fmt.Errorf("transport: no LAN available: %w", errors.Join(errs...))
	}
	return d, nil
}

func openLink(lan store.LAN, listen, peer string) (*lanLink, error) {
	if listen == "" {
		return nil, fmt.Errorf("%s: no listen address configured", lan)
	}
	pc, err := net.ListenPacket("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("%s: listen %s: %w", lan, listen, err)
	}
	link := &lanLink{lan: lan, pc: pc}
	if peer != "" {
		conn, err := net.Dial("udp", peer)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("%s: dial %s: %w", lan, peer, err)
		}
		link.peer = conn
	}
	return link, nil
}

// Lans reports which LANs actually came up, in LAN order.
func (d *Dual) Lans() []store.LAN {
	out := make([]store.LAN, 0, len(d.links))
	for _, l := range d.links {
		out = append(out, l.lan)
	}
	return out
}

// Addr returns the bound receive address for one LAN, nil when that LAN
// is down.
func (d *Dual) Addr(lan store.LAN) net.Addr {
	for _, l := range d.links {
		if l.lan == lan {
			return l.pc.LocalAddr()
		}
	}
	return nil
}

// Run receives on every live LAN until ctx is cancelled.
func (d *Dual) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		for _, l := range d.links {
			l.pc.Close()
			if l.peer != nil {
				l.peer.Close()
			}
		}
	}()

	for _, l := range d.links {
		d.wg.Add(1)
		go func(l *lanLink) {
			defer d.wg.Done()
			d.receiveLoop(ctx, l)
		}(l)
	}
	d.wg.Wait()
	return nil
}

func (d *Dual) receiveLoop(ctx context.Context, l *lanLink) {
	log := d.log.With(logging.String("lan", l.lan.String()))
	log.Info("receiving", logging.String("addr", l.pc.LocalAddr().String()))
	buf := make([]byte, maxFrameSize)
	for {
		n, _, err := l.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error("receive failed", logging.Err(err))
			return
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		d.sink(l.lan, raw)
	}
}

// Send writes one encoded frame to every live LAN's peer. Errors are
// joined so a single dead peer does not hide the other.
func (d *Dual) Send(raw []byte) error {
	var errs []error
	for _, l := range d.links {
		if l.peer == nil {
			continue
		}
		if _, err := l.peer.Write(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.lan, err))
		}
	}
	return errors.Join(errs...)
}
