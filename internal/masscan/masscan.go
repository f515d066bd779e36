// Package masscan runs the masscan sweeper as a subprocess and parses
// its JSON-lines output. Sweep failures degrade to an empty result set
// so one bad target never stops a run.
package masscan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GarussMisha/VK-masscan/internal/errors"
	"github.com/GarussMisha/VK-masscan/internal/logging"
)

// Shortest line that can still decode to a record, e.g. {"ip":"1.1.1.1"}.
const minRecordLineLen = 10

// Protocol is the transport protocol of a discovered port.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Record is one open port discovered by a sweep.
type Record struct {
	Address  string
	Port     uint16
	Protocol Protocol
	Status   string
}

// Executor runs sweeps with a fixed binary, rate, and timeout.
type Executor struct {
	binary  string
	rate    int
	timeout time.Duration
	tempDir string
	logger  *logging.Logger
	now     func() time.Time
}

// NewExecutor creates a sweep executor. Output files are written under
// the system temp directory.
func NewExecutor(binary string, rate int, timeout time.Duration, logger *logging.Logger) *Executor {
	return &Executor{
		binary:  binary,
		rate:    rate,
		timeout: timeout,
		tempDir: os.TempDir(),
		logger:  logger.WithComponent("masscan"),
		now:     time.Now,
	}
}

// CheckBinary verifies the sweeper binary is resolvable. Called once at
// startup; an absent binary is the one sweep condition that is fatal.
func (e *Executor) CheckBinary() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return apperrors.WrapScanError(apperrors.CodeBinaryMissing,
			fmt.Sprintf("sweeper binary %q not found in PATH", e.binary), err)
	}
	return nil
}

// Scan sweeps target for the given port specification and returns the
// discovered open ports. Every failure mode short of a missing binary
// at startup is absorbed here: subprocess errors, unexpected exit
// codes, timeouts, and missing or malformed output all log and return
// an empty list.
func (e *Executor) Scan(ctx context.Context, target, ports string) []Record {
	outPath := filepath.Join(e.tempDir,
		fmt.Sprintf("masscan_%s.json", e.now().Format("20060102T150405.000000000")))
	defer e.cleanup(outPath)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{
		target,
		"-p" + ports,
		"--rate", strconv.Itoa(e.rate),
		"--open-only",
		"--wait", "0",
		"-oJ", outPath,
	}

	e.logger.InfoScan("starting sweep", target, "ports", ports, "rate", e.rate)
	start := e.now()

	cmd := exec.CommandContext(runCtx, e.binary, args...)
	err := cmd.Run()
	elapsed := e.now().Sub(start)

	if runCtx.Err() == context.DeadlineExceeded {
		e.logger.ErrorScan("sweep timed out", target, apperrors.ErrSweepTimeout(target),
			"timeout", e.timeout)
		return nil
	}
	if err != nil {
		// masscan exits 1 on some benign conditions (e.g. nothing
		// found on certain versions); only 0 and 1 count as success.
		if exitErr, ok := err.(*exec.ExitError); ok {
			if code := exitErr.ExitCode(); code != 1 {
				e.logger.ErrorScan("sweep failed", target,
					apperrors.ErrSweepExitCode(target, code), "duration", elapsed)
				return nil
			}
		} else {
			e.logger.ErrorScan("failed to run sweeper", target,
				apperrors.WrapScanErrorWithTarget(apperrors.CodeSweepFailed,
					"sweeper subprocess failed to start", target, err))
			return nil
		}
	}

	records := e.parseOutput(outPath, target)
	e.logger.InfoScan("sweep complete", target,
		"open_ports", len(records), "duration", elapsed)
	return records
}

// outputLine mirrors one element of masscan's -oJ output.
type outputLine struct {
	IP    string `json:"ip"`
	Ports []struct {
		Port   int    `json:"port"`
		Proto  string `json:"proto"`
		Status string `json:"status"`
	} `json:"ports"`
}

// parseOutput reads the sweep output file line by line. masscan writes
// a JSON array with one object per line plus bracket and comma lines,
// and truncates mid-array when interrupted, so the parser takes every
// line that decodes and silently skips the rest.
func (e *Executor) parseOutput(path, target string) []Record {
	data, err := os.ReadFile(path)
	if err != nil {
		e.logger.ErrorScan("sweep produced no readable output", target,
			apperrors.ErrOutputUnreadable(target, err), "path", path)
		return nil
	}

	var records []Record
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), ","))
		if line == "" || line == "[" || line == "]" || line == "{" || line == "}" || line == "," {
			continue
		}
		if len(line) < minRecordLineLen {
			e.logger.Debug("skipping short output line", "line", line)
			continue
		}

		var parsed outputLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			e.logger.Debug("skipping undecodable output line", "error", err)
			continue
		}
		if parsed.IP == "" {
			continue
		}

		for _, p := range parsed.Ports {
			if p.Port <= 0 || p.Port > 65535 {
				continue
			}
			proto := Protocol(p.Proto)
			if proto == "" {
				proto = ProtocolTCP
			}
			status := p.Status
			if status == "" {
				status = "open"
			}
			records = append(records, Record{
				Address:  parsed.IP,
				Port:     uint16(p.Port),
				Protocol: proto,
				Status:   status,
			})
		}
	}
	return records
}

func (e *Executor) cleanup(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("failed to remove sweep output file", "path", path, "error", err)
	}
}
