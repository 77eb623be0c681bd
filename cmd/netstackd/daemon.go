package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soypat/tinystack/dhcpv4"
	"github.com/soypat/tinystack/internet"
	"github.com/soypat/tinystack/ssh"
	"github.com/soypat/tinystack/ssh/sftp"
)

// passwordAuth implements [ssh.PasswordAuthenticator] against the single
// operator credential pair configured for this daemon. A production
// deployment with more than one operator would swap this for something
// backed by a credential store; a static embedded administration target
// has exactly one account.
type passwordAuth struct {
	username, password string
}

func (a passwordAuth) Authenticate(username, password string) bool {
	return username == a.username && password == a.password
}

// subsystemFactory wires the "sftp" channel subsystem request to a fresh
// [sftp.Server] per connection, backed by a shared in-memory filesystem.
// This is the one place that imports both package ssh and package sftp,
// per ssh/sftp's documented decoupling.
func subsystemFactory(fs *memFS) ssh.SubsystemFactory {
	return func(w ssh.ChannelWriter, name string) (ssh.Session, error) {
		if name != "sftp" {
			return nil, fmt.Errorf("netstackd: unsupported subsystem %q", name)
		}
		return sftp.NewServer(w, fs), nil
	}
}

// parseAddr4 parses a dotted-decimal IPv4 address into the protocol
// packages' [4]byte representation.
func parseAddr4(s string) ([4]byte, error) {
	var out [4]byte
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return out, fmt.Errorf("parse address %q: %w", s, err)
	}
	addr4 := addr.As4()
	return addr4, nil
}

// run boots the driver, wires the stack, the SSH administration server,
// an optional DHCP client, and an optional metrics endpoint, then drives
// the cooperative poll loop until ctx is cancelled.
func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	hwAddr, addr, netmask, gateway, err := resolveAddressing(cfg)
	if err != nil {
		return err
	}

	driver, err := newTapDriver(cfg.Iface.Name, netip.PrefixFrom(netip.AddrFrom4(addr), prefixBits(netmask)))
	if err != nil {
		return fmt.Errorf("open interface %s: %w", cfg.Iface.Name, err)
	}
	if realHW, err := driver.HardwareAddress6(); err == nil {
		hwAddr = realHW
	}
	defer driver.Close()

	var stack internet.Stack
	stack.Init(driver, internet.Config{
		HWAddr:  hwAddr,
		Addr:    addr,
		Netmask: netmask,
		Gateway: gateway,
		Logger:  logger,
	})

	if err := loadOrGenerateHostKey(cfg.SSH.HostKeyPath); err != nil {
		return fmt.Errorf("ssh host key: %w", err)
	}

	var reg *prometheus.Registry
	var coll *Collector
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		coll = NewCollector(reg)
	}

	var dhcpClient *dhcpv4.StackClient
	if cfg.DHCP.Enabled {
		dhcpClient = &dhcpv4.StackClient{}
		dhcpClient.Init(hwAddr, internet.DHCPUDPSender{Stack: &stack}, uint32(addr[0])<<24|uint32(addr[3])|1)
		stack.ListenUDP(dhcpv4.DefaultClientPort, dhcpClient)
	}

	fs := newMemFS()
	transport := &ssh.Transport{
		Auth:      passwordAuth{username: cfg.SSH.Username, password: cfg.SSH.Password},
		Shell:     newShellFactory(&stack, dhcpClient, coll),
		Subsystem: subsystemFactory(fs),
	}
	transport.SetLogger(logger)
	stack.ListenTCP(cfg.SSH.Port, transport)

	if cfg.Metrics.Enabled {
		srv := newMetricsServer(cfg.Metrics, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.String("error", err.Error()))
			}
		}()
		defer srv.Close()
	}

	logger.Info("netstackd listening",
		slog.String("iface", cfg.Iface.Name),
		slog.Uint64("ssh_port", uint64(cfg.SSH.Port)),
		slog.Bool("dhcp", cfg.DHCP.Enabled),
	)

	return pollLoop(ctx, &stack, dhcpClient, coll)
}

// pollLoop drives Stack.PollRx cooperatively, backing off briefly when no
// frame is pending, and fires the 1 Hz aging tick that ages the ARP cache
// and advances the DHCP client's state machine, the way
// examples/httpserver's hand-rolled main loop drives xnet.StackAsync.
func pollLoop(ctx context.Context, stack *internet.Stack, dhcp *dhcpv4.StackClient, coll *Collector) error {
	ticker := time.NewTicker(agingTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stack.OnAgingTick()
			if dhcp != nil {
				if err := dhcp.OnAgingTick(); err != nil {
					return fmt.Errorf("dhcp tick: %w", err)
				}
				if coll != nil {
					coll.DHCPState.Set(float64(dhcp.State()))
				}
				if dhcp.State() == dhcpv4.StateLeaseActive {
					if assigned, ok := dhcp.AssignedAddr(); ok {
						subnet, _ := dhcp.Subnet()
						gateway, _ := dhcp.RouterAddr()
						stack.SetAddr(assigned, subnet, gateway)
					}
				}
			}
		default:
			ok, err := stack.PollRx()
			if err != nil {
				return fmt.Errorf("poll: %w", err)
			}
			if !ok {
				time.Sleep(pollInterval)
			}
		}
	}
}

func newMetricsServer(cfg MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// resolveAddressing parses the interface's static addressing out of cfg.
// HWAddr is left zero here; run overwrites it with the driver's real MAC
// once the interface is open, falling back to this zero value only if the
// driver cannot report one.
func resolveAddressing(cfg *Config) (hw [6]byte, addr, netmask, gateway [4]byte, err error) {
	addr, err = parseAddr4(cfg.Iface.Addr)
	if err != nil {
		return hw, addr, netmask, gateway, err
	}
	netmask, err = parseAddr4(cfg.Iface.Netmask)
	if err != nil {
		return hw, addr, netmask, gateway, err
	}
	gateway, err = parseAddr4(cfg.Iface.Gateway)
	if err != nil {
		return hw, addr, netmask, gateway, err
	}
	return hw, addr, netmask, gateway, nil
}

func prefixBits(mask [4]byte) int {
	n := 0
	for _, b := range mask {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n
}
