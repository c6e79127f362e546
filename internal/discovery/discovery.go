package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"attendance-bridge/internal/adapters/biometric"
	"attendance-bridge/internal/config"
)

// DefaultPort is the TCP port attendance terminals listen on
const DefaultPort = 4370

// maxHosts caps a single scan; a /20 is the largest accepted range.
const maxHosts = 4096

var ErrRangeTooLarge = errors.New("network range too large to scan")

// Device status values
const (
	StatusIdentified   = "identified"
	StatusUnidentified = "unidentified"
)

// DeviceInfo represents a terminal that answered the handshake
type DeviceInfo struct {
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Brand      string `json:"brand,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Users      int    `json:"users"`
	Status     string `json:"status"`
}

// Scanner probes hosts for attendance terminals. A host counts as a
// terminal when it completes the CONNECT handshake; its brand is the
// first family whose user query it accepts.
type Scanner struct {
	options     biometric.Options
	ports       []int
	concurrency int
	brands      []string
	logger      logrus.FieldLogger
}

// NewScanner creates a scanner using options for every probe
func NewScanner(options biometric.Options, logger logrus.FieldLogger) *Scanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	options.Logger = quiet(logger)
	return &Scanner{
		options:     options,
		ports:       []int{DefaultPort},
		concurrency: 50,
		brands:      []string{biometric.BrandZKTeco, biometric.BrandFingertec},
		logger:      logger.WithField("component", "discovery"),
	}
}

// WithPorts replaces the probed ports
func (s *Scanner) WithPorts(ports ...int) *Scanner {
	s.ports = append([]int(nil), ports...)
	return s
}

// WithConcurrency bounds the number of hosts probed at once
func (s *Scanner) WithConcurrency(n int) *Scanner {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// Scan probes every host of cidr. An empty cidr scans the /24 around
// each local IPv4 interface address. Results are sorted by address.
func (s *Scanner) Scan(ctx context.Context, cidr string) ([]DeviceInfo, error) {
	var networks []*net.IPNet
	if cidr == "" {
		local, err := localNetworks()
		if err != nil {
			return nil, fmt.Errorf("failed to list local networks: %w", err)
		}
		networks = local
	} else {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", cidr, err)
		}
		networks = []*net.IPNet{network}
	}

	var hosts []string
	for _, network := range networks {
		h, err := Hosts(network)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h...)
	}

	s.logger.WithFields(logrus.Fields{
		"hosts": len(hosts),
		"ports": s.ports,
	}).Info("Scanning for attendance terminals")

	var found []DeviceInfo
	var mutex sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, host := range hosts {
		for _, port := range s.ports {
			host, port := host, port
			g.Go(func() error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				device, ok := s.Probe(ctx, host, port)
				if !ok {
					return nil
				}
				mutex.Lock()
				found = append(found, device)
				mutex.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return found, err
	}

	sort.Slice(found, func(i, j int) bool {
		a, b := net.ParseIP(found[i].IP).To4(), net.ParseIP(found[j].IP).To4()
		if c := compareIP(a, b); c != 0 {
			return c < 0
		}
		return found[i].Port < found[j].Port
	})

	s.logger.WithField("devices", len(found)).Info("Scan completed")
	return found, nil
}

// Probe checks one host:port. ok is false when nothing answers the
// handshake.
func (s *Scanner) Probe(ctx context.Context, ip string, port int) (DeviceInfo, bool) {
	endpoint := biometric.Endpoint{IP: ip, Port: port}
	info := DeviceInfo{IP: ip, Port: port, Status: StatusUnidentified}

	for i, brand := range s.brands {
		driver, ok := biometric.NewDriver(brand, s.options)
		if !ok {
			continue
		}
		if err := driver.Connect(ctx, endpoint); err != nil {
			if i == 0 {
				return DeviceInfo{}, false
			}
			continue
		}

		users, err := driver.Users(ctx)
		name := driver.DeviceName()
		driver.Disconnect()

		if err == nil {
			info.Brand = brand
			info.DeviceName = name
			info.Users = len(users)
			info.Status = StatusIdentified
			break
		}
	}

	s.logger.WithFields(logrus.Fields{
		"ip":     ip,
		"port":   port,
		"brand":  info.Brand,
		"status": info.Status,
	}).Info("Discovered attendance terminal")
	return info, true
}

// DeviceConfigs turns identified devices into configuration entries
func DeviceConfigs(devices []DeviceInfo) []config.DeviceConfig {
	configs := make([]config.DeviceConfig, 0, len(devices))
	for _, d := range devices {
		if d.Status != StatusIdentified {
			continue
		}
		id := fmt.Sprintf("%s-%s", d.Brand, strings.ReplaceAll(d.IP, ".", "-"))
		if d.Port != DefaultPort {
			id = fmt.Sprintf("%s-%d", id, d.Port)
		}
		configs = append(configs, config.DeviceConfig{
			ID:    id,
			Name:  id,
			Brand: d.Brand,
			IP:    d.IP,
			Port:  d.Port,
		})
	}
	return configs
}

// Hosts lists the usable host addresses of an IPv4 network. Network and
// broadcast addresses are skipped for ranges larger than /31.
func Hosts(network *net.IPNet) ([]string, error) {
	base := network.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("only IPv4 networks can be scanned: %s", network)
	}
	ones, bits := network.Mask.Size()
	size := 1 << uint(bits-ones)
	if size > maxHosts {
		return nil, fmt.Errorf("%w: %s has %d addresses", ErrRangeTooLarge, network, size)
	}

	ip := make(net.IP, len(base))
	copy(ip, base.Mask(network.Mask))

	hosts := make([]string, 0, size)
	for ; network.Contains(ip); incrementIP(ip) {
		hosts = append(hosts, ip.String())
	}
	if size > 2 {
		hosts = hosts[1 : len(hosts)-1]
	}
	return hosts, nil
}

func incrementIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

func compareIP(a, b net.IP) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// localNetworks returns the /24 around every up, non-loopback IPv4 address
func localNetworks() ([]*net.IPNet, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var networks []*net.IPNet
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
				continue
			}
			mask := ipnet.Mask
			if ones, _ := mask.Size(); ones < 24 {
				mask = net.CIDRMask(24, 32)
			}
			network := &net.IPNet{IP: ipnet.IP.To4().Mask(mask), Mask: mask}
			if !seen[network.String()] {
				seen[network.String()] = true
				networks = append(networks, network)
			}
		}
	}

	return networks, nil
}

// quiet silences driver logs during a scan unless debug logging is on
func quiet(logger logrus.FieldLogger) logrus.FieldLogger {
	if l, ok := logger.(*logrus.Logger); ok && l.IsLevelEnabled(logrus.DebugLevel) {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
