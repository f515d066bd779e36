// Package history maintains the persisted record of previously observed
// ports and service banners per address. The store is loaded once at
// startup and rewritten wholesale after every update; memory stays
// authoritative when persistence fails.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/GarussMisha/VK-masscan/internal/errors"
	"github.com/GarussMisha/VK-masscan/internal/logging"
)

const (
	historyDirPerm  = 0750
	historyFilePerm = 0600
)

// HostRecord is the persisted state for a single address.
type HostRecord struct {
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	Ports     []uint16          `json:"ports"`
	Services  map[string]string `json:"services"`
}

// ServiceChange describes a banner transition on a single port.
type ServiceChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Store holds scan history for all addresses. Safe for use from a
// single scheduler goroutine; the mutex covers the metrics endpoint
// reading counters concurrently.
type Store struct {
	mu     sync.Mutex
	path   string
	hosts  map[string]*HostRecord
	logger *logging.Logger
	now    func() time.Time
}

// Load opens the history document at path. A missing file yields an
// empty store; an unreadable or unparseable document is logged and
// also yields an empty store. Load never fails.
func Load(path string, logger *logging.Logger) *Store {
	s := &Store{
		path:   path,
		hosts:  make(map[string]*HostRecord),
		logger: logger.WithComponent("history"),
		now:    time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no history file found, starting empty", "path", path)
		} else {
			s.logger.ErrorHistory("failed to read history file, starting empty", err, "path", path)
		}
		return s
	}

	var hosts map[string]*HostRecord
	if err := json.Unmarshal(data, &hosts); err != nil {
		s.logger.ErrorHistory("failed to parse history file, starting empty", err, "path", path)
		return s
	}

	for addr, rec := range hosts {
		if rec == nil {
			continue
		}
		if rec.Services == nil {
			rec.Services = make(map[string]string)
		}
		s.hosts[addr] = rec
	}
	s.logger.Info("history loaded", "path", path, "hosts", len(s.hosts))
	return s
}

// PreviousPorts returns the sorted ports last recorded for address,
// or an empty slice if the address was never seen.
func (s *Store) PreviousPorts(address string) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.hosts[address]
	if !ok {
		return []uint16{}
	}
	ports := make([]uint16, len(rec.Ports))
	copy(ports, rec.Ports)
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// FindNewPorts returns the sorted subset of ports not present in the
// stored record for address. Call before Update: the comparison is
// against the pre-update state.
func (s *Store) FindNewPorts(address string, ports []uint16) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[uint16]bool)
	if rec, ok := s.hosts[address]; ok {
		for _, p := range rec.Ports {
			known[p] = true
		}
	}

	seen := make(map[uint16]bool)
	var fresh []uint16
	for _, p := range ports {
		if !known[p] && !seen[p] {
			fresh = append(fresh, p)
			seen[p] = true
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	return fresh
}

// FindChangedServices compares new banners against stored ones and
// returns the ports whose banner differs from a previously recorded
// banner. A port with no stored banner is never reported: the first
// observation establishes the baseline. Call before Update.
func (s *Store) FindChangedServices(address string, services map[string]string) map[uint16]ServiceChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make(map[uint16]ServiceChange)
	rec, ok := s.hosts[address]
	if !ok {
		return changed
	}

	for portKey, banner := range services {
		old, seen := rec.Services[portKey]
		if !seen || old == banner {
			continue
		}
		port, err := strconv.ParseUint(portKey, 10, 16)
		if err != nil {
			s.logger.Warn("skipping malformed port key in history", "address", address, "key", portKey)
			continue
		}
		changed[uint16(port)] = ServiceChange{Old: old, New: banner}
	}
	return changed
}

// Update records the latest observation for address. Ports replace the
// stored set (sorted, deduplicated); services merge over the stored map
// so banners survive ports dropping out of a sweep. FirstSeen is set
// once, LastSeen on every call. The document is persisted after the
// in-memory update; persist failures are logged and swallowed.
func (s *Store) Update(address string, ports []uint16, services map[string]string) {
	s.mu.Lock()

	now := s.now().UTC()
	rec, ok := s.hosts[address]
	if !ok {
		rec = &HostRecord{
			FirstSeen: now,
			Services:  make(map[string]string),
		}
		s.hosts[address] = rec
	}
	rec.LastSeen = now

	dedup := make(map[uint16]bool, len(ports))
	sorted := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if !dedup[p] {
			dedup[p] = true
			sorted = append(sorted, p)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rec.Ports = sorted

	for portKey, banner := range services {
		rec.Services[portKey] = banner
	}

	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.logger.ErrorHistory("failed to persist history, continuing with in-memory state", err,
			"address", address, "path", s.path)
	}
}

// HostCount returns the number of addresses in the store.
func (s *Store) HostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hosts)
}

// Record returns a copy of the stored record for address, if present.
func (s *Store) Record(address string) (HostRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.hosts[address]
	if !ok {
		return HostRecord{}, false
	}
	out := HostRecord{
		FirstSeen: rec.FirstSeen,
		LastSeen:  rec.LastSeen,
		Ports:     append([]uint16(nil), rec.Ports...),
		Services:  make(map[string]string, len(rec.Services)),
	}
	for k, v := range rec.Services {
		out.Services[k] = v
	}
	return out, true
}

// persist rewrites the whole document. Write-then-rename keeps a
// partially written file from clobbering the previous document.
func (s *Store) persist() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.hosts, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return apperrors.WrapPersistError("failed to encode history", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, historyDirPerm); err != nil {
			return apperrors.WrapPersistError("failed to create history directory", s.path, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, historyFilePerm); err != nil {
		return apperrors.WrapPersistError("failed to write history file", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperrors.WrapPersistError("failed to replace history file", s.path, err)
	}
	return nil
}
