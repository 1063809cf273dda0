// Package mcast implements transport.SSMD over multicast UDP, plus a raw
// Sender used by the mcastpub package to originate datagrams on the same
// group. The receive side joins the group for any source; it applies no
// source filter.
package mcast

import (
	"context"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/s-emmerson/hycast/types"
)

// MaxPayload is the largest datagram this package will send or expects to
// receive whole, chosen to stay under the common path MTU after UDP/IP
// headers.
const MaxPayload = 1472

// Config describes the multicast group, the interface to use, and the
// send side's TTL and loopback mode. It carries no source address.
type Config struct {
	GroupAddr *net.UDPAddr
	Iface     *net.Interface
	TTL       int
	Loopback  bool
}

// Receiver is an SSMD over one multicast group. A single background
// goroutine reads whole datagrams off the socket into a one-deep queue, so
// HasRecord/GetSize/Recv/Discard never race with the socket read.
type Receiver struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn

	ch     chan []byte
	head   []byte
	hasHead bool
	closed chan struct{}
	err    error
}

// NewReceiver joins cfg.GroupAddr on cfg.Iface and returns a ready Receiver.
func NewReceiver(cfg Config) (*Receiver, error) {
	conn, err := net.ListenMulticastUDP("udp4", cfg.Iface, cfg.GroupAddr)
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)
	if cfg.Iface != nil {
		if err := pc.JoinGroup(cfg.Iface, cfg.GroupAddr); err != nil {
			conn.Close()
			return nil, err
		}
	}
	r := &Receiver{
		conn:   conn,
		pc:     pc,
		ch:     make(chan []byte, 1),
		closed: make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func (r *Receiver) readLoop() {
	for {
		buf := make([]byte, MaxPayload)
		n, err := r.conn.Read(buf)
		if err != nil {
			r.err = err
			close(r.closed)
			return
		}
		select {
		case r.ch <- buf[:n]:
		case <-r.closed:
			return
		}
	}
}

func (r *Receiver) ensureHead(ctx context.Context) error {
	if r.hasHead {
		return nil
	}
	select {
	case b := <-r.ch:
		r.head = b
		r.hasHead = true
		return nil
	case <-r.closed:
		if r.err != nil {
			return r.err
		}
		return types.RuntimeError("multicast socket closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasRecord implements transport.SSMD.
func (r *Receiver) HasRecord() bool {
	return r.hasHead || len(r.ch) > 0
}

// GetSize implements transport.SSMD.
func (r *Receiver) GetSize() int {
	return len(r.head)
}

// Recv implements transport.SSMD.
func (r *Receiver) Recv(ctx context.Context, iov [][]byte, peek bool) (int, error) {
	if err := r.ensureHead(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, dst := range iov {
		if n >= len(r.head) {
			break
		}
		n += copy(dst, r.head[n:])
	}
	if !peek {
		r.hasHead = false
		r.head = nil
	}
	return n, nil
}

// Discard implements transport.SSMD.
func (r *Receiver) Discard() error {
	r.hasHead = false
	r.head = nil
	return nil
}

// Close implements transport.SSMD.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Sender originates datagrams on a multicast group. It has no peer in the
// SSMD interface: publishers write, subscribers read, and neither role
// ever does both on the same socket.
type Sender struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	dst  *net.UDPAddr
}

// NewSender opens a socket for sending to cfg.GroupAddr, configuring the
// multicast hop limit and loopback mode cfg requests.
func NewSender(cfg Config) (*Sender, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)
	if cfg.TTL > 0 {
		if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		conn.Close()
		return nil, err
	}
	if cfg.Iface != nil {
		if err := pc.SetMulticastInterface(cfg.Iface); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &Sender{conn: conn, pc: pc, dst: cfg.GroupAddr}, nil
}

// Send writes b whole as one datagram. b must be at most MaxPayload bytes.
func (s *Sender) Send(b []byte) error {
	if len(b) > MaxPayload {
		return types.InvalidArgument("datagram exceeds MaxPayload")
	}
	_, err := s.conn.WriteToUDP(b, s.dst)
	return err
}

// Close releases the sender's socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
