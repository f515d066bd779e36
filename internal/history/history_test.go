package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GarussMisha/VK-masscan/internal/logging"
)

func testLogger() *logging.Logger {
	logger, _ := logging.New(logging.Config{
		Level:  logging.LevelError,
		Format: logging.FormatText,
		Output: "stderr",
	})
	return logger
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Load(filepath.Join(t.TempDir(), "history.json"), testLogger())
}

func TestLoadMissingFile(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	assert.Equal(t, 0, s.HostCount())
	assert.Empty(t, s.PreviousPorts("192.0.2.1"))
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s := Load(path, testLogger())
	assert.Equal(t, 0, s.HostCount())
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	doc := map[string]HostRecord{
		"192.0.2.1": {
			FirstSeen: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			LastSeen:  time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
			Ports:     []uint16{443, 22},
			Services:  map[string]string{"22": "ssh OpenSSH 9.6"},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	s := Load(path, testLogger())
	assert.Equal(t, 1, s.HostCount())
	assert.Equal(t, []uint16{22, 443}, s.PreviousPorts("192.0.2.1"))
}

func TestUpdateReplacesPorts(t *testing.T) {
	s := newTestStore(t)

	s.Update("192.0.2.1", []uint16{22, 80}, map[string]string{
		"22": "ssh", "80": "http nginx",
	})
	s.Update("192.0.2.1", []uint16{22, 443}, map[string]string{
		"22": "ssh", "443": "https nginx",
	})

	// Port 80 dropped out of the latest sweep so it leaves the port set.
	assert.Equal(t, []uint16{22, 443}, s.PreviousPorts("192.0.2.1"))
}

func TestUpdateMergesServices(t *testing.T) {
	s := newTestStore(t)

	s.Update("192.0.2.1", []uint16{22, 80}, map[string]string{
		"22": "ssh", "80": "http nginx",
	})
	s.Update("192.0.2.1", []uint16{22, 443}, map[string]string{
		"22": "ssh", "443": "https nginx",
	})

	// The banner for port 80 survives the port dropping out, so a later
	// reappearance with the same banner is not reported as a change.
	rec, ok := s.Record("192.0.2.1")
	require.True(t, ok)
	assert.Equal(t, "http nginx", rec.Services["80"])

	changed := s.FindChangedServices("192.0.2.1", map[string]string{"80": "http nginx"})
	assert.Empty(t, changed)
}

func TestUpdateSortsAndDeduplicatesPorts(t *testing.T) {
	s := newTestStore(t)

	s.Update("192.0.2.1", []uint16{443, 22, 443, 80}, nil)
	assert.Equal(t, []uint16{22, 80, 443}, s.PreviousPorts("192.0.2.1"))
}

func TestFirstSeenSetOnce(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Update("192.0.2.1", []uint16{22}, nil)

	s.now = func() time.Time { return base.Add(24 * time.Hour) }
	s.Update("192.0.2.1", []uint16{22}, nil)

	rec, ok := s.Record("192.0.2.1")
	require.True(t, ok)
	assert.Equal(t, base, rec.FirstSeen)
	assert.Equal(t, base.Add(24*time.Hour), rec.LastSeen)
}

func TestFindNewPorts(t *testing.T) {
	s := newTestStore(t)
	s.Update("192.0.2.1", []uint16{22, 80}, nil)

	fresh := s.FindNewPorts("192.0.2.1", []uint16{443, 22, 8080, 443})
	assert.Equal(t, []uint16{443, 8080}, fresh)

	// Unknown address: everything is new.
	fresh = s.FindNewPorts("192.0.2.99", []uint16{80, 22})
	assert.Equal(t, []uint16{22, 80}, fresh)
}

func TestFindChangedServicesFirstBannerNotChanged(t *testing.T) {
	s := newTestStore(t)

	// No record at all.
	changed := s.FindChangedServices("192.0.2.1", map[string]string{"22": "ssh"})
	assert.Empty(t, changed)

	// Record exists but the port has no stored banner.
	s.Update("192.0.2.1", []uint16{22}, map[string]string{"22": "ssh"})
	changed = s.FindChangedServices("192.0.2.1", map[string]string{"80": "http nginx"})
	assert.Empty(t, changed)
}

func TestFindChangedServicesDetectsTransition(t *testing.T) {
	s := newTestStore(t)
	s.Update("192.0.2.1", []uint16{22}, map[string]string{"22": "ssh OpenSSH 9.6"})

	changed := s.FindChangedServices("192.0.2.1", map[string]string{
		"22": "ssh OpenSSH 9.9",
	})
	require.Len(t, changed, 1)
	assert.Equal(t, ServiceChange{Old: "ssh OpenSSH 9.6", New: "ssh OpenSSH 9.9"}, changed[22])

	// Identical banner is not a change.
	changed = s.FindChangedServices("192.0.2.1", map[string]string{
		"22": "ssh OpenSSH 9.6",
	})
	assert.Empty(t, changed)
}

func TestDiffBeforeUpdateOrdering(t *testing.T) {
	s := newTestStore(t)
	s.Update("192.0.2.1", []uint16{22}, map[string]string{"22": "ssh"})

	ports := []uint16{22, 443}
	services := map[string]string{"22": "ssh-new", "443": "https"}

	fresh := s.FindNewPorts("192.0.2.1", ports)
	changed := s.FindChangedServices("192.0.2.1", services)
	s.Update("192.0.2.1", ports, services)

	assert.Equal(t, []uint16{443}, fresh)
	require.Len(t, changed, 1)
	assert.Equal(t, "ssh", changed[22].Old)

	// After the update the same observation diffs clean.
	assert.Empty(t, s.FindNewPorts("192.0.2.1", ports))
	assert.Empty(t, s.FindChangedServices("192.0.2.1", services))
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := Load(path, testLogger())
	s.Update("192.0.2.1", []uint16{22, 80}, map[string]string{"22": "ssh"})

	reloaded := Load(path, testLogger())
	assert.Equal(t, []uint16{22, 80}, reloaded.PreviousPorts("192.0.2.1"))
	rec, ok := reloaded.Record("192.0.2.1")
	require.True(t, ok)
	assert.Equal(t, "ssh", rec.Services["22"])
}

func TestPersistFailureKeepsMemoryAuthoritative(t *testing.T) {
	dir := t.TempDir()
	// A directory at the history path makes the rename fail.
	path := filepath.Join(dir, "history.json")
	require.NoError(t, os.Mkdir(path, 0750))

	s := Load(path, testLogger())
	s.Update("192.0.2.1", []uint16{22}, map[string]string{"22": "ssh"})

	assert.Equal(t, []uint16{22}, s.PreviousPorts("192.0.2.1"))
}
