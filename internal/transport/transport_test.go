package transport

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"pcs-simulator/internal/logging"
	"pcs-simulator/internal/store"
)

type capture struct {
	mu    sync.Mutex
	items []struct {
		lan store.LAN
		raw []byte
	}
	seen chan struct{}
}

func newCapture() *capture {
	return &capture{seen: make(chan struct{}, 16)}
}

func (c *capture) sink(lan store.LAN, raw []byte) bool {
	c.mu.Lock()
	c.items = append(c.items, struct {
		lan store.LAN
		raw []byte
	}{lan, raw})
	c.mu.Unlock()
	c.seen <- struct{}{}
	return true
}

func (c *capture) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d frames arrived", i, n)
		}
	}
}

func TestDualTagsFramesByLan(t *testing.T) {
	t.Parallel()
	c := newCapture()
	d, err := New(Config{Lan1Listen: "127.0.0.1:0", Lan2Listen: "127.0.0.1:0"}, c.sink, logging.Noop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := d.Lans(); len(got) != 2 {
		t.Fatalf("expected both LANs up, got %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	for _, lan := range []store.LAN{store.LAN1, store.LAN2} {
		conn, err := net.Dial("udp", d.Addr(lan).String())
		if err != nil {
			t.Fatalf("dial %s: %v", lan, err)
		}
		if _, err := conn.Write([]byte{byte(lan), 0xAA}); err != nil {
			t.Fatalf("write %s: %v", lan, err)
		}
		conn.Close()
	}
	c.wait(t, 2)

	c.mu.Lock()
	defer c.mu.Unlock()
	got := map[store.LAN][]byte{}
	for _, item := range c.items {
		got[item.lan] = item.raw
	}
	for _, lan := range []store.LAN{store.LAN1, store.LAN2} {
		if !bytes.Equal(got[lan], []byte{byte(lan), 0xAA}) {
			t.Fatalf("%s frame wrong or mis-tagged: %v", lan, got[lan])
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop")
	}
}

func TestDegradedStart(t *testing.T) {
	t.Parallel()
	// LAN2 has no listen address, LAN1 must still come up
	d, err := New(Config{Lan1Listen: "127.0.0.1:0"}, newCapture().sink, logging.Noop())
	if err != nil {
		t.Fatalf("degraded start must succeed with one LAN: %v", err)
	}
	lans := d.Lans()
	if len(lans) != 1 || lans[0] != store.LAN1 {
		t.Fatalf("expected only LAN1 up, got %v", lans)
	}
	if d.Addr(store.LAN2) != nil {
		t.Fatal("LAN2 must report no address when down")
	}
}

func TestBothLansDownIsFatal(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, newCapture().sink, logging.Noop()); err == nil {
		t.Fatal("expected error when no LAN can bind")
	}
}

func TestSendFansOut(t *testing.T) {
	t.Parallel()
	peer1, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer peer1.Close()
	peer2, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer peer2.Close()

	d, err := New(Config{
		Lan1Listen: "127.0.0.1:0",
		Lan2Listen: "127.0.0.1:0",
		Lan1Peer:   peer1.LocalAddr().String(),
		Lan2Peer:   peer2.LocalAddr().String(),
	}, newCapture().sink, logging.Noop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := []byte{0x01, 0x02, 0x03}
	if err := d.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 16)
	for i, pc := range []net.PacketConn{peer1, peer2} {
		pc.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			t.Fatalf("peer %d read: %v", i+1, err)
		}
		if !bytes.Equal(buf[:n], payload) {
			t.Fatalf("peer %d got %v, want %v", i+1, buf[:n], payload)
		}
	}
}
