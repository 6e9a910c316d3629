package failover

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/go-errors/errors"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// mtuOverhead defines the total MTU overhead for an ICMP ECHO message: 20 bytes IP header + 8 bytes ICMP header
const mtuOverhead = 28

// sender sends pings and reads the replies
type sender interface {
	Send(seq int) error
	Read(deadline time.Time) error
}

// Pinger sends unprivileged ICMP echo requests to the tunnel gateway
type Pinger struct {
	listener net.PacketConn
	buffer   []byte
	gateway  net.Addr
}

// NewPinger creates a pinger for gateway with packets of size bytes
func NewPinger(gateway string, size int) (*Pinger, error) {
	ip := net.ParseIP(gateway)
	if ip == nil || ip.To4() == nil {
		return nil, errors.Errorf("invalid gateway: '%s'", gateway)
	}
	l, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed creating ping", 0)
	}
	return &Pinger{
		listener: l,
		buffer:   make([]byte, size-mtuOverhead),
		gateway:  &net.UDPAddr{IP: ip},
	}, nil
}

// Read waits until deadline for an echo reply
func (p *Pinger) Read(deadline time.Time) error {
	if err := p.listener.SetReadDeadline(deadline); err != nil {
		return err
	}
	r := make([]byte, 1500)
	n, _, err := p.listener.ReadFrom(r)
	if err != nil {
		return err
	}
	got, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), r[:n])
	if err != nil {
		return err
	}
	if got.Type != ipv4.ICMPTypeEchoReply {
		return fmt.Errorf("not a ping echo reply, got: %+v", got)
	}
	return nil
}

// Send sends an echo request with sequence number seq
func (p *Pinger) Send(seq int) error {
	m := icmp.Message{
		Type: ipv4.ICMPTypeEcho, Code: 0,
		Body: &icmp.Echo{
			ID: os.Getpid() & 0xffff, Seq: seq,
			Data: p.buffer,
		},
	}
	b, err := m.Marshal(nil)
	if err != nil {
		return errors.WrapPrefix(err, fmt.Sprintf("failed sending ping, seq %d", seq), 0)
	}
	if _, err = p.listener.WriteTo(b, p.gateway); err != nil {
		return errors.WrapPrefix(err, fmt.Sprintf("failed sending ping, seq %d", seq), 0)
	}
	return nil
}

// Close closes the ICMP socket
func (p *Pinger) Close() error {
	return p.listener.Close()
}
