// Package internet ties the ethernet/arp/ipv4/icmpv4/udp/tcp/dhcpv4
// packages together into a single pollable Stack, the way the teacher's
// BasicStack/PortStack wired a fixed set of protocol handlers to one
// Ethernet driver.
package internet

import (
	"log/slog"
	"net/netip"

	"github.com/soypat/tinystack/arp"
	"github.com/soypat/tinystack/dhcpv4"
	"github.com/soypat/tinystack/ethernet"
	"github.com/soypat/tinystack/internal"
	"github.com/soypat/tinystack/ipv4"
	"github.com/soypat/tinystack/ipv4/icmpv4"
	"github.com/soypat/tinystack/tcp"
	"github.com/soypat/tinystack/udp"
)

// Config configures a Stack's static addressing. A zero Addr means the
// interface starts without a lease and relies on the DHCP client to
// set the address via [Stack.SetAddr] once one is acquired.
type Config struct {
	HWAddr       [6]byte
	Addr         [4]byte
	Netmask      [4]byte
	Gateway      [4]byte
	ARPWays      int // 0 selects package default (4).
	ARPLines     int // 0 selects package default (256).
	TCPWays      int // 0 selects package default (2).
	TCPLines     int // 0 selects package default (16).
	TCPRecvWindow tcp.Size
	Logger       *slog.Logger
}

// Stack wires one Ethernet driver to ARP resolution, IPv4 routing, and the
// ICMPv4/UDP/TCP protocol handlers, the way the design's single-threaded
// cooperative dispatcher expects: PollRx processes at most one inbound
// frame per call, OnAgingTick ages the ARP cache (Stack has no faster tick
// entry point, and does not drive TCP, DHCP or NTP timers), and nothing
// here spawns a goroutine.
type Stack struct {
	Eth  ethernet.Layer
	ARP  arp.Resolver
	IP   ipv4.Layer
	ICMP icmpv4.EchoResponder
	UDP  udp.Layer
	TCP  tcp.Layer
	log  *slog.Logger
}

// Init wires every layer together: the Ethernet driver, ARP resolver
// (registered as an ethernet.Handler, its cache serving as IPv4's ARPResolver), the
// IPv4 routing layer, and the ICMPv4/UDP/TCP handlers registered against
// it by IP protocol number.
func (s *Stack) Init(driver ethernet.Driver, cfg Config) {
	s.log = cfg.Logger
	s.Eth.Init(driver, cfg.HWAddr)
	s.ARP.Init(cfg.HWAddr, cfg.Addr, cfg.ARPWays, cfg.ARPLines, 0)
	s.ARP.SetEthernetLayer(&s.Eth)
	s.Eth.Register(&s.ARP)

	s.IP.Init(&s.Eth, &s.ARP.Cache, ipv4.Config{
		Addr:    cfg.Addr,
		Netmask: cfg.Netmask,
		Gateway: cfg.Gateway,
	})
	s.Eth.Register(&s.IP)

	s.ICMP.Init(&s.IP)
	s.IP.Register(&s.ICMP)

	s.UDP.Init(&s.IP)
	s.IP.Register(&s.UDP)

	recvWindow := cfg.TCPRecvWindow
	if recvWindow == 0 {
		recvWindow = 4096
	}
	s.TCP.Init(&s.IP, cfg.TCPWays, cfg.TCPLines, recvWindow, internal.Prand32(uint32(cfg.Addr[0])<<24|uint32(cfg.Addr[3])|1))
	s.IP.Register(&s.TCP)
}

// Addr returns the interface's current IPv4 address.
func (s *Stack) Addr() netip.Addr { return netip.AddrFrom4(s.ARP.IPAddr) }

// SetAddr updates the interface's IPv4 address and ARP identity, used by
// the DHCP client once a lease is acquired or renewed.
func (s *Stack) SetAddr(addr, netmask, gateway [4]byte) {
	s.ARP.IPAddr = addr
	s.IP.SetAddr(addr, netmask, gateway)
}

// ListenUDP registers app to receive datagrams addressed to localPort.
func (s *Stack) ListenUDP(localPort uint16, app udp.Application) {
	s.UDP.Listen(localPort, app)
}

// ListenTCP registers app to receive connections addressed to localPort.
func (s *Stack) ListenTCP(localPort uint16, app tcp.Application) {
	s.TCP.Listen(localPort, app)
}

// PollRx processes at most one inbound Ethernet frame, returning
// ok=false if the driver had none pending.
func (s *Stack) PollRx() (ok bool, err error) {
	return s.Eth.PollRx()
}

// OnAgingTick is the 1 Hz timer: it ages the ARP cache. It does not drive
// a DHCP or NTP client; the caller owns those and calls their own
// OnAgingTick.
func (s *Stack) OnAgingTick() {
	s.ARP.Cache.OnAgingTick()
}

// DHCPUDPSender adapts Stack's UDP layer to [dhcpv4.UDPSender], letting a
// dhcpv4.StackClient transmit through this Stack.
type DHCPUDPSender struct{ Stack *Stack }

func (d DHCPUDPSender) Send(dst [4]byte, srcPort, dstPort uint16, payload []byte) error {
	return d.Stack.UDP.Send(dst, srcPort, dstPort, payload)
}

var _ dhcpv4.UDPSender = DHCPUDPSender{}
