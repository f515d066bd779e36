// Package probe identifies the services behind open ports. Each address
// gets one batched nmap version-detection run covering all of its
// discovered ports.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	apperrors "github.com/GarussMisha/VK-masscan/internal/errors"
	"github.com/GarussMisha/VK-masscan/internal/logging"
)

// State classifies the outcome of probing a single port.
type State int

const (
	// StateOpen means the port answered and a banner was composed.
	StateOpen State = iota
	// StateClosed means nmap reported a non-open state for the port.
	StateClosed
	// StateFailed means the port was requested but absent from the
	// probe output.
	StateFailed
)

// Result is the identification outcome for one port.
type Result struct {
	State  State
	Banner string
	Detail string
}

// Identifier runs service identification scans.
type Identifier struct {
	timeout time.Duration
	logger  *logging.Logger
}

// NewIdentifier creates a service identifier with the given per-batch
// timeout.
func NewIdentifier(timeout time.Duration, logger *logging.Logger) *Identifier {
	return &Identifier{
		timeout: timeout,
		logger:  logger.WithComponent("probe"),
	}
}

// Identify probes all ports on address in a single nmap run and returns
// a result per requested port. The returned map always has an entry for
// every requested port; ports missing from the nmap output come back as
// StateFailed. A run-level error leaves identification to the caller's
// placeholder handling.
func (i *Identifier) Identify(ctx context.Context, address string, ports []uint16) (map[uint16]Result, error) {
	if len(ports) == 0 {
		return map[uint16]Result{}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	portSpec := make([]string, len(ports))
	for n, p := range ports {
		portSpec[n] = fmt.Sprintf("%d", p)
	}

	scanner, err := nmap.NewScanner(runCtx,
		nmap.WithTargets(address),
		nmap.WithPorts(strings.Join(portSpec, ",")),
		nmap.WithServiceInfo(),
		nmap.WithVersionAll(),
		nmap.WithSkipHostDiscovery(),
	)
	if err != nil {
		return nil, apperrors.WrapScanErrorWithTarget(apperrors.CodeProbeFailed,
			"failed to create probe scanner", address, err)
	}

	i.logger.Debug("probing services", "address", address, "ports", len(ports))
	run, warnings, err := scanner.Run()
	if err != nil {
		return nil, apperrors.WrapScanErrorWithTarget(apperrors.CodeProbeFailed,
			"probe scan failed", address, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		i.logger.Debug("probe completed with warnings", "address", address, "warnings", *warnings)
	}

	results := make(map[uint16]Result, len(ports))
	for _, host := range run.Hosts {
		for _, port := range host.Ports {
			if port.State.State == "open" {
				results[port.ID] = Result{
					State:  StateOpen,
					Banner: composeBanner(&port.Service),
				}
			} else {
				results[port.ID] = Result{
					State:  StateClosed,
					Detail: port.State.State,
				}
			}
		}
	}

	for _, p := range ports {
		if _, ok := results[p]; !ok {
			results[p] = Result{State: StateFailed, Detail: "absent from probe output"}
		}
	}
	return results, nil
}

// composeBanner joins the service name, product, version, and extra
// info into a single space-separated banner, omitting empty parts.
// Example: "http nginx 1.24.0 (Ubuntu)".
func composeBanner(svc *nmap.Service) string {
	parts := make([]string, 0, 4)
	if svc.Name != "" {
		parts = append(parts, svc.Name)
	}
	if svc.Product != "" {
		parts = append(parts, svc.Product)
	}
	if svc.Version != "" {
		parts = append(parts, svc.Version)
	}
	if svc.ExtraInfo != "" {
		parts = append(parts, "("+svc.ExtraInfo+")")
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, " ")
}
