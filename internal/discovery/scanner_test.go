package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) report(v int) {
	p.mu.Lock()
	p.values = append(p.values, v)
	p.mu.Unlock()
}

func (p *progressLog) all() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.values...)
}

func fixedAddress(ip string) AddressFunc {
	return func() (net.IP, error) { return net.ParseIP(ip), nil }
}

// answering returns a probe that succeeds for the given hosts only.
func answering(hosts map[string]string, probed *sync.Map) ProbeFunc {
	return func(_ context.Context, host string) (string, error) {
		if probed != nil {
			probed.Store(host, true)
		}
		if id, ok := hosts[host]; ok {
			return id, nil
		}
		return "", errors.New("connection refused")
	}
}

func TestScan_FirstHitInBatchOrder(t *testing.T) {
	var probed sync.Map
	s := New(Config{
		LocalAddress: fixedAddress("192.168.1.20"),
		Probe: answering(map[string]string{
			"192.168.1.27": "222",
			"192.168.1.23": "111",
			"192.168.1.90": "999",
		}, &probed),
	})
	progress := &progressLog{}

	res, err := s.Scan(context.Background(), progress.report)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, Result{Host: "192.168.1.23", SysID: "111"}, *res)

	// Hit in the third batch: two progress reports, then indeterminate.
	assert.Equal(t, []int{Percent(10), Percent(20), Indeterminate}, progress.all())

	_, scannedLater := probed.Load("192.168.1.31")
	assert.False(t, scannedLater, "scan continued past the hit")
}

func TestScan_NoResponderCoversWholeRange(t *testing.T) {
	var calls atomic.Int32
	s := New(Config{
		LocalAddress: fixedAddress("10.1.2.3"),
		Probe: func(_ context.Context, host string) (string, error) {
			calls.Add(1)
			return "", errors.New("timeout")
		},
	})
	progress := &progressLog{}

	res, err := s.Scan(context.Background(), progress.report)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, int32(254), calls.Load())

	values := progress.all()
	require.Len(t, values, 27)
	assert.Equal(t, 100, values[len(values)-2])
	assert.Equal(t, Indeterminate, values[len(values)-1])
	for i := 1; i < len(values)-1; i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1])
	}
}

func TestScan_LastHostIsProbed(t *testing.T) {
	s := New(Config{
		LocalAddress: fixedAddress("10.0.0.1"),
		Probe:        answering(map[string]string{"10.0.0.254": "4242"}, nil),
	})
	res, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "10.0.0.254", res.Host)
}

func TestScan_EmptySysIDIsNoAnswer(t *testing.T) {
	s := New(Config{
		LocalAddress: fixedAddress("10.0.0.1"),
		Probe:        answering(map[string]string{"10.0.0.5": "", "10.0.0.6": "66"}, nil),
	})
	res, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "10.0.0.6", res.Host)
}

func TestScan_NoIPv4(t *testing.T) {
	probe := func(context.Context, string) (string, error) {
		t.Fatal("probe must not run without a local address")
		return "", nil
	}
	s := New(Config{
		LocalAddress: func() (net.IP, error) { return nil, ErrNoIPv4 },
		Probe:        probe,
	})
	progress := &progressLog{}

	res, err := s.Scan(context.Background(), progress.report)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, []int{Indeterminate}, progress.all())

	s = New(Config{LocalAddress: fixedAddress("fe80::1"), Probe: probe})
	res, err = s.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestScan_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	s := New(Config{
		LocalAddress: fixedAddress("10.0.0.1"),
		Probe: func(context.Context, string) (string, error) {
			if calls.Add(1) == 1 {
				cancel()
			}
			return "", errors.New("refused")
		},
	})

	res, err := s.Scan(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Equal(t, int32(DefaultBatchSize), calls.Load())
}

func TestScan_BatchesRunConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	var once sync.Once
	s := New(Config{
		LocalAddress: fixedAddress("10.0.0.1"),
		BatchSize:    5,
		Probe: func(context.Context, string) (string, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			if n == 5 {
				once.Do(func() { close(release) })
			}
			<-release
			inFlight.Add(-1)
			return "", errors.New("refused")
		},
	})

	_, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(5), peak.Load())
}

func TestPrefixAndPercent(t *testing.T) {
	p, err := Prefix(net.ParseIP("192.168.1.20"))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.", p)

	_, err = Prefix(net.ParseIP("::1"))
	assert.Error(t, err)

	assert.Equal(t, 0, Percent(0))
	assert.Equal(t, 4, Percent(10))
	assert.Equal(t, 50, Percent(127))
	assert.Equal(t, 100, Percent(254))
}
