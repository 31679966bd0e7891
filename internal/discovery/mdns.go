// ABOUTME: mDNS service discovery for caster status endpoints
// ABOUTME: Advertises a running caster and browses for others on the LAN
package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/mdns"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ServiceType is the DNS-SD type of a caster status endpoint
const ServiceType = "_sendspin-caster._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	// TXT records such as run id, version and output names
	TXT []string
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	casters chan *CasterInfo
	server  *mdns.Server
}

// CasterInfo describes a discovered caster
type CasterInfo struct {
	Name string
	Host string
	Port int
	TXT  []string
}

// Addr returns host:port of the status endpoint
func (c *CasterInfo) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		casters: make(chan *CasterInfo, 10),
	}
}

// Advertise announces the status endpoint via mDNS until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return errors.Wrap(err, "failed to get local IPs")
	}

	txt := append([]string{"path=/status"}, m.config.TXT...)
	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create service")
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return errors.Wrap(err, "failed to create mdns server")
	}
	m.server = server

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for casters once, waiting up to timeoutSec seconds
func (m *Manager) Browse(timeoutSec int) error {
	entries := make(chan *mdns.ServiceEntry, 10)

	go func() {
		for entry := range entries {
			host := ""
			if entry.AddrV4 != nil {
				host = entry.AddrV4.String()
			} else if entry.AddrV6 != nil {
				host = entry.AddrV6.String()
			}
			caster := &CasterInfo{
				Name: entry.Name,
				Host: host,
				Port: entry.Port,
				TXT:  entry.InfoFields,
			}

			log.Debugf("Discovered caster: %s at %s", caster.Name, caster.Addr())

			select {
			case m.casters <- caster:
			case <-m.ctx.Done():
				return
			}
		}
	}()

	params := &mdns.QueryParam{
		Service: ServiceType,
		Domain:  "local",
		Timeout: secondsDuration(timeoutSec),
		Entries: entries,
	}

	err := mdns.Query(params)
	close(entries)
	if err != nil {
		return errors.Wrap(err, "mdns query")
	}
	return nil
}

// Casters returns the channel of discovered casters
func (m *Manager) Casters() <-chan *CasterInfo {
	return m.casters
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
