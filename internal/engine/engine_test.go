package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GarussMisha/VK-masscan/internal/history"
	"github.com/GarussMisha/VK-masscan/internal/logging"
	"github.com/GarussMisha/VK-masscan/internal/masscan"
	"github.com/GarussMisha/VK-masscan/internal/probe"
)

func testLogger() *logging.Logger {
	logger, _ := logging.New(logging.Config{
		Level:  logging.LevelError,
		Format: logging.FormatText,
		Output: "stderr",
	})
	return logger
}

// fakeProber returns canned banners and records which addresses were
// probed with which port batches.
type fakeProber struct {
	banners map[string]map[uint16]string
	failFor map[string]bool
	calls   []probeCall
}

type probeCall struct {
	address string
	ports   []uint16
}

func (f *fakeProber) Identify(_ context.Context, address string, ports []uint16) (map[uint16]probe.Result, error) {
	f.calls = append(f.calls, probeCall{address: address, ports: append([]uint16(nil), ports...)})
	if f.failFor[address] {
		return nil, errors.New("probe blew up")
	}
	results := make(map[uint16]probe.Result, len(ports))
	for _, p := range ports {
		if banner, ok := f.banners[address][p]; ok {
			results[p] = probe.Result{State: probe.StateOpen, Banner: banner}
		} else {
			results[p] = probe.Result{State: probe.StateFailed, Detail: "absent from probe output"}
		}
	}
	return results, nil
}

func newTestEngine(t *testing.T, prober Prober) (*Engine, *history.Store) {
	t.Helper()
	store := history.Load(filepath.Join(t.TempDir(), "history.json"), testLogger())
	return New(store, prober, testLogger()), store
}

func records(addr string, ports ...uint16) []masscan.Record {
	out := make([]masscan.Record, len(ports))
	for i, p := range ports {
		out[i] = masscan.Record{Address: addr, Port: p, Protocol: masscan.ProtocolTCP, Status: "open"}
	}
	return out
}

func TestProcessBatchesOneProbePerAddress(t *testing.T) {
	prober := &fakeProber{
		banners: map[string]map[uint16]string{
			"192.0.2.1": {22: "ssh", 80: "http nginx"},
			"192.0.2.2": {443: "https"},
		},
	}
	eng, _ := newTestEngine(t, prober)

	recs := append(records("192.0.2.1", 22), records("192.0.2.2", 443)...)
	recs = append(recs, records("192.0.2.1", 80)...)

	reports := eng.Process(context.Background(), recs)

	// One probe call per address, each with the address's full batch,
	// in discovery order.
	require.Len(t, prober.calls, 2)
	assert.Equal(t, "192.0.2.1", prober.calls[0].address)
	assert.Equal(t, []uint16{22, 80}, prober.calls[0].ports)
	assert.Equal(t, "192.0.2.2", prober.calls[1].address)
	assert.Equal(t, []uint16{443}, prober.calls[1].ports)

	require.Len(t, reports, 2)
	assert.Equal(t, "192.0.2.1", reports[0].Address)
	assert.Equal(t, "192.0.2.2", reports[1].Address)
}

func TestProcessFirstObservationAllNew(t *testing.T) {
	prober := &fakeProber{
		banners: map[string]map[uint16]string{
			"192.0.2.1": {22: "ssh OpenSSH 9.6"},
		},
	}
	eng, _ := newTestEngine(t, prober)

	reports := eng.Process(context.Background(), records("192.0.2.1", 22))
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, []uint16{22}, r.NewPorts)
	assert.Empty(t, r.ChangedServices, "first banner is a baseline, not a change")
	assert.Equal(t, "ssh OpenSSH 9.6", r.Services[22])
	assert.True(t, r.HasChanges())
}

func TestProcessDetectsNewPortsAndChangedBanners(t *testing.T) {
	prober := &fakeProber{
		banners: map[string]map[uint16]string{
			"192.0.2.1": {22: "ssh OpenSSH 9.6", 443: "https nginx"},
		},
	}
	eng, store := newTestEngine(t, prober)
	store.Update("192.0.2.1", []uint16{22}, map[string]string{"22": "ssh OpenSSH 9.4"})

	reports := eng.Process(context.Background(), records("192.0.2.1", 22, 443))
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, []uint16{443}, r.NewPorts)
	require.Len(t, r.ChangedServices, 1)
	assert.Equal(t, history.ServiceChange{Old: "ssh OpenSSH 9.4", New: "ssh OpenSSH 9.6"},
		r.ChangedServices[22])
}

func TestProcessNoChangesOnRepeatObservation(t *testing.T) {
	prober := &fakeProber{
		banners: map[string]map[uint16]string{
			"192.0.2.1": {22: "ssh"},
		},
	}
	eng, _ := newTestEngine(t, prober)

	first := eng.Process(context.Background(), records("192.0.2.1", 22))
	require.Len(t, first, 1)
	assert.True(t, first[0].HasChanges())

	second := eng.Process(context.Background(), records("192.0.2.1", 22))
	require.Len(t, second, 1)
	assert.False(t, second[0].HasChanges())
}

func TestProcessProbeFailureIsolated(t *testing.T) {
	prober := &fakeProber{
		banners: map[string]map[uint16]string{
			"192.0.2.3": {80: "http"},
		},
		failFor: map[string]bool{"192.0.2.2": true},
	}
	eng, store := newTestEngine(t, prober)

	recs := append(records("192.0.2.2", 22), records("192.0.2.3", 80)...)
	reports := eng.Process(context.Background(), recs)
	require.Len(t, reports, 2)

	// The failed address still produces a report with placeholder banners.
	assert.Equal(t, "probe failed", reports[0].Services[22])
	assert.Equal(t, []uint16{22}, reports[0].NewPorts)

	// The next address is unaffected.
	assert.Equal(t, "http", reports[1].Services[80])

	// History advanced for both.
	assert.Equal(t, []uint16{22}, store.PreviousPorts("192.0.2.2"))
	assert.Equal(t, []uint16{80}, store.PreviousPorts("192.0.2.3"))
}

func TestProcessPlaceholderBecomesChangeLater(t *testing.T) {
	prober := &fakeProber{failFor: map[string]bool{"192.0.2.1": true}}
	eng, _ := newTestEngine(t, prober)

	eng.Process(context.Background(), records("192.0.2.1", 22))

	// Probe recovers; the placeholder-to-banner transition is a change.
	prober.failFor = nil
	prober.banners = map[string]map[uint16]string{"192.0.2.1": {22: "ssh"}}

	reports := eng.Process(context.Background(), records("192.0.2.1", 22))
	require.Len(t, reports, 1)
	require.Len(t, reports[0].ChangedServices, 1)
	assert.Equal(t, history.ServiceChange{Old: "probe failed", New: "ssh"},
		reports[0].ChangedServices[22])
}

func TestProcessEmptyRecords(t *testing.T) {
	prober := &fakeProber{}
	eng, _ := newTestEngine(t, prober)

	reports := eng.Process(context.Background(), nil)
	assert.Empty(t, reports)
	assert.Empty(t, prober.calls)
}
