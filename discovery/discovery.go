// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package discovery announces the logger's status endpoint over mDNS and
// finds other loggers on the local network.
//
// Each running logger registers a "_currentcost._tcp" service whose port is
// the metrics/health HTTP server. TXT records carry the delivery sink, the
// status paths and the software version, so a dashboard or Prometheus
// service discovery can find every monitor in the house without
// configuration.
//
// # Example Usage
//
//	adv, err := discovery.Advertise(discovery.Announcement{
//	    Instance: "currentcost-kitchen",
//	    Port:     9090,
//	    Sink:     "emoncms",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer adv.Shutdown()
//
//	loggers, err := discovery.NewScanner(discovery.ServiceType, discovery.Domain).
//	    Discover(ctx, 5*time.Second)
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/soothill/currentcost-logger/pkg/logger"
)

const (
	// ServiceType is the DNS-SD service loggers register under
	ServiceType = "_currentcost._tcp"

	// Domain is the mDNS domain
	Domain = "local."
)

// Announcement describes the service a logger advertises
type Announcement struct {
	Instance string
	Port     int
	Sink     string
	Node     string
	Version  string
}

// TXT renders the announcement's TXT records
func (a Announcement) TXT() []string {
	txt := []string{
		"metrics=/metrics",
		"health=/health",
		"ready=/ready",
	}
	if a.Sink != "" {
		txt = append(txt, "sink="+a.Sink)
	}
	if a.Node != "" {
		txt = append(txt, "node="+a.Node)
	}
	if a.Version != "" {
		txt = append(txt, "version="+a.Version)
	}
	return txt
}

// Advertiser keeps an mDNS registration alive until Shutdown
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the announcement on all multicast interfaces
func Advertise(a Announcement) (*Advertiser, error) {
	if a.Instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", a.Port)
	}

	server, err := zeroconf.Register(a.Instance, ServiceType, Domain, a.Port, a.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logger.Info().
		Str("instance", a.Instance).
		Str("service", ServiceType).
		Int("port", a.Port).
		Msg("Advertising status endpoint via mDNS")

	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the registration
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	logger.Info().Msg("mDNS advertisement withdrawn")
}

// Instance is a logger found on the network
type Instance struct {
	Name      string
	Address   net.IP
	Port      int
	TXTRecord map[string]string
	Hostname  string
}

// Sink returns the delivery sink the instance advertises
func (i *Instance) Sink() string {
	return i.TXTRecord["sink"]
}

// MetricsURL returns the instance's Prometheus endpoint
func (i *Instance) MetricsURL() string {
	path := i.TXTRecord["metrics"]
	if path == "" {
		path = "/metrics"
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(i.Address.String(), fmt.Sprint(i.Port)), path)
}

// GetID returns a unique identifier for the instance
func (i *Instance) GetID() string {
	return fmt.Sprintf("%s@%s", i.Name, net.JoinHostPort(i.Address.String(), fmt.Sprint(i.Port)))
}

// Scanner browses for logger instances via mDNS
type Scanner struct {
	serviceType string
	domain      string
	instances   map[string]*Instance
	mu          sync.RWMutex // Protects instances
}

// NewScanner creates a new scanner
func NewScanner(serviceType, domain string) *Scanner {
	return &Scanner{
		serviceType: serviceType,
		domain:      domain,
		instances:   make(map[string]*Instance),
	}
}

// Discover browses for timeout and returns the instances seen during this
// scan. Instances are also remembered across scans; see GetInstances.
//
// The resolver produces entries on a buffered channel that a single
// consumer goroutine parses, so a burst of answers does not stall the
// resolver.
func (s *Scanner) Discover(ctx context.Context, timeout time.Duration) ([]*Instance, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 10)
	found := make([]*Instance, 0)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			inst := parseServiceEntry(entry)
			if inst == nil {
				continue
			}

			s.mu.Lock()
			s.instances[inst.GetID()] = inst
			s.mu.Unlock()
			found = append(found, inst)

			logger.Info().
				Str("instance", inst.Name).
				Str("address", inst.Address.String()).
				Int("port", inst.Port).
				Str("sink", inst.Sink()).
				Msg("Discovered CurrentCost logger")
		}
	}()

	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := resolver.Browse(discoverCtx, s.serviceType, s.domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	<-discoverCtx.Done()
	// The resolver closes entries once the browse context ends
	wg.Wait()

	return found, nil
}

// parseServiceEntry converts a zeroconf service entry to an Instance
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Instance {
	if entry == nil {
		return nil
	}
	if len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
		return nil
	}

	// Prefer IPv4, fallback to IPv6
	var addr net.IP
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0]
	} else {
		addr = entry.AddrIPv6[0]
	}

	txtRecord := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			txtRecord[parts[0]] = parts[1]
		}
	}

	return &Instance{
		Name:      entry.Instance,
		Address:   addr,
		Port:      entry.Port,
		TXTRecord: txtRecord,
		Hostname:  entry.HostName,
	}
}

// GetInstances returns every instance seen so far
func (s *Scanner) GetInstances() []*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	return instances
}
