package discovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

// Indeterminate is reported when progress is unknown (on a hit and when
// the scan ends).
const Indeterminate = -1

const (
	// DefaultBatchSize is the number of hosts probed concurrently.
	DefaultBatchSize = 10

	// DefaultProbeTimeout bounds one host probe.
	DefaultProbeTimeout = 2 * time.Second

	firstHost = 1
	lastHost  = 254
)

// ErrNoIPv4 is returned by LocalIPv4 when no usable interface exists.
var ErrNoIPv4 = errors.New("discovery: no non-loopback IPv4 address")

// Result is a controller that answered the identity query.
type Result struct {
	Host  string `json:"address"`
	SysID string `json:"sysid"`
}

// ProbeFunc queries host for its system identifier.
type ProbeFunc func(ctx context.Context, host string) (string, error)

// AddressFunc returns the local IPv4 address used to derive the scan range.
type AddressFunc func() (net.IP, error)

// ProgressFunc receives progress in percent, or Indeterminate.
type ProgressFunc func(percent int)

// Logger is the logging interface used by the scanner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Config holds scanner dependencies.
type Config struct {
	// Probe queries one host. Default: ngbs.GetSysID with Options.
	Probe ProbeFunc

	// Options configure the default probe.
	Options ngbs.Options

	// LocalAddress finds the interface address. Default: LocalIPv4.
	LocalAddress AddressFunc

	// BatchSize is the number of concurrent probes. Default: 10.
	BatchSize int

	// ProbeTimeout bounds each probe. Default: 2s.
	ProbeTimeout time.Duration

	Logger Logger
}

// Scanner looks for NGBS Icon controllers on the local /24.
//
// Thread Safety:
//   - Scan may be called concurrently; scans share no state.
type Scanner struct {
	probe        ProbeFunc
	localAddress AddressFunc
	batchSize    int
	probeTimeout time.Duration
	logger       Logger
}

// New creates a scanner from cfg, filling defaults.
func New(cfg Config) *Scanner {
	s := &Scanner{
		probe:        cfg.Probe,
		localAddress: cfg.LocalAddress,
		batchSize:    cfg.BatchSize,
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
	}
	if s.probe == nil {
		opts := cfg.Options
		if opts.ModbusPort == 0 {
			opts = ngbs.DefaultOptions()
		}
		s.probe = func(ctx context.Context, host string) (string, error) {
			return ngbs.GetSysID(ctx, host, opts)
		}
	}
	if s.localAddress == nil {
		s.localAddress = LocalIPv4
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = DefaultProbeTimeout
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s
}

// Scan probes hosts .1 to .254 of the local /24 in batches and returns the
// first host that reports a system id, in batch order. It returns nil when
// there is no local IPv4 address or nothing answers. progress may be nil.
//
// A cancelled ctx stops the scan after the current batch and returns
// ctx.Err().
func (s *Scanner) Scan(ctx context.Context, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(int) {}
	}
	defer progress(Indeterminate)

	ip, err := s.localAddress()
	if err != nil || ip == nil {
		s.logger.Info("no local IPv4 address, skipping scan", "error", err)
		return nil, nil
	}
	prefix, err := Prefix(ip)
	if err != nil {
		s.logger.Info("local address unusable for scan", "address", ip.String(), "error", err)
		return nil, nil
	}
	s.logger.Info("starting network scan", "range", fmt.Sprintf("%s%d-%d", prefix, firstHost, lastHost))

	for start := firstHost; start <= lastHost; start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stop := min(start+s.batchSize-1, lastHost)
		s.logger.Debug("scanning batch", "from", prefix+fmt.Sprint(start), "to", prefix+fmt.Sprint(stop))

		if hit := s.probeBatch(ctx, prefix, start, stop); hit != nil {
			s.logger.Info("controller found", "address", hit.Host, "sysid", hit.SysID)
			return hit, nil
		}
		progress(Percent(stop))
	}
	s.logger.Info("network scan finished without result")
	return nil, nil
}

// probeBatch probes hosts start..stop concurrently and returns the lowest
// responding host.
func (s *Scanner) probeBatch(ctx context.Context, prefix string, start, stop int) *Result {
	results := make([]*Result, stop-start+1)

	var wg sync.WaitGroup
	for i := range results {
		host := prefix + fmt.Sprint(start+i)
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
			defer cancel()
			sysid, err := s.probe(pctx, host)
			if err != nil || sysid == "" {
				return
			}
			results[i] = &Result{Host: host, SysID: sysid}
		}(i, host)
	}
	wg.Wait()

	for _, r := range results {
		if r != nil {
			return r
		}
	}
	return nil
}

// Percent converts the last probed host number into scan progress.
func Percent(host int) int {
	return int(math.Round(float64(host) * 100 / lastHost))
}

// Prefix returns the dotted /24 prefix of ip, including the trailing dot.
func Prefix(ip net.IP) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("discovery: %s is not an IPv4 address", ip)
	}
	return fmt.Sprintf("%d.%d.%d.", v4[0], v4[1], v4[2]), nil
}

// LocalIPv4 returns the first IPv4 address of an up, non-loopback interface.
func LocalIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
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
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipNet.IP.To4(); v4 != nil && !v4.IsLoopback() {
				return v4, nil
			}
		}
	}
	return nil, ErrNoIPv4
}
