// Package engine turns raw sweep records into per-address change
// reports: it batches ports by address, identifies services, diffs
// against history, and advances the stored state.
package engine

import (
	"context"
	"strconv"

	"github.com/GarussMisha/VK-masscan/internal/history"
	"github.com/GarussMisha/VK-masscan/internal/logging"
	"github.com/GarussMisha/VK-masscan/internal/masscan"
	"github.com/GarussMisha/VK-masscan/internal/probe"
)

const (
	// Banner recorded when identification could not run for an address.
	placeholderBanner = "probe failed"
	// Banner recorded when the probe ran but had nothing for a port.
	unknownBanner = "unknown"
)

// Prober identifies services behind open ports.
type Prober interface {
	Identify(ctx context.Context, address string, ports []uint16) (map[uint16]probe.Result, error)
}

// Report is the change summary for one address in one run.
type Report struct {
	Address         string
	AllPorts        []uint16
	NewPorts        []uint16
	ChangedServices map[uint16]history.ServiceChange
	Services        map[uint16]string
}

// HasChanges reports whether anything new was observed for the address.
func (r Report) HasChanges() bool {
	return len(r.NewPorts) > 0 || len(r.ChangedServices) > 0
}

// Engine processes sweep results for a run.
type Engine struct {
	store  *history.Store
	prober Prober
	logger *logging.Logger
}

// New creates a change engine.
func New(store *history.Store, prober Prober, logger *logging.Logger) *Engine {
	return &Engine{
		store:  store,
		prober: prober,
		logger: logger.WithComponent("engine"),
	}
}

// Process groups records by address, probes each address once for its
// whole port batch, diffs the observation against the stored state, and
// updates history. Addresses are handled in discovery order; a probe
// failure on one address yields placeholder banners for its ports and
// leaves the remaining addresses untouched.
func (e *Engine) Process(ctx context.Context, records []masscan.Record) []Report {
	order, grouped := groupByAddress(records)

	reports := make([]Report, 0, len(order))
	for _, address := range order {
		reports = append(reports, e.processAddress(ctx, address, grouped[address]))
	}
	return reports
}

func (e *Engine) processAddress(ctx context.Context, address string, ports []uint16) Report {
	log := e.logger.WithAddress(address)

	services := make(map[uint16]string, len(ports))
	results, err := e.prober.Identify(ctx, address, ports)
	if err != nil {
		log.Error("service identification failed, recording placeholders", "error", err)
		for _, p := range ports {
			services[p] = placeholderBanner
		}
	} else {
		for _, p := range ports {
			switch res := results[p]; res.State {
			case probe.StateOpen:
				services[p] = res.Banner
			case probe.StateClosed:
				log.Debug("port closed during probe", "port", p, "state", res.Detail)
				services[p] = unknownBanner
			default:
				services[p] = unknownBanner
			}
		}
	}

	keyed := make(map[string]string, len(services))
	for p, banner := range services {
		keyed[strconv.Itoa(int(p))] = banner
	}

	// Diff against the pre-update snapshot, then advance history.
	newPorts := e.store.FindNewPorts(address, ports)
	changed := e.store.FindChangedServices(address, keyed)
	e.store.Update(address, ports, keyed)

	if len(newPorts) > 0 || len(changed) > 0 {
		log.Info("changes detected", "new_ports", len(newPorts), "changed_services", len(changed))
	}

	return Report{
		Address:         address,
		AllPorts:        ports,
		NewPorts:        newPorts,
		ChangedServices: changed,
		Services:        services,
	}
}

// groupByAddress collects ports per address, preserving the order in
// which addresses first appear in the sweep output.
func groupByAddress(records []masscan.Record) ([]string, map[string][]uint16) {
	var order []string
	grouped := make(map[string][]uint16)
	seen := make(map[string]map[uint16]bool)

	for _, rec := range records {
		if _, ok := grouped[rec.Address]; !ok {
			order = append(order, rec.Address)
			seen[rec.Address] = make(map[uint16]bool)
		}
		if !seen[rec.Address][rec.Port] {
			seen[rec.Address][rec.Port] = true
			grouped[rec.Address] = append(grouped[rec.Address], rec.Port)
		}
	}
	return order, grouped
}
