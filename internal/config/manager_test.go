package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ravenhall-io/coresentry/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []plugin.Event
}

func (p *capturePublisher) Publish(_ context.Context, e plugin.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) snapshot() []plugin.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]plugin.Event(nil), p.events...)
}

func writeConfigFile(t *testing.T, path, doc string) {
	t.Helper()
	// Rename-and-replace, the way config pushers save atomically.
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(doc), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func newTestManager(t *testing.T, doc string) (*Manager, *capturePublisher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detector.json")
	writeConfigFile(t, path, doc)

	bus := &capturePublisher{}
	m, err := NewManager(path, 20*time.Millisecond, bus, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m, bus, path
}

func TestNewManagerLoadsInitialConfiguration(t *testing.T) {
	m, _, _ := newTestManager(t, validDocument)

	cfg := m.Current()
	require.NotNil(t, cfg)
	assert.Equal(t, "1", cfg.Version)
	assert.True(t, cfg.MitigationEnabled)
}

func TestNewManagerRejectsMissingFile(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "absent.json"), 0, nil, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedConfiguration)
}

func TestNewManagerRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detector.json")
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o644))

	_, err := NewManager(path, 0, nil, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedConfiguration)
}

func TestReloadSwapsSnapshotAndPublishes(t *testing.T) {
	m, bus, path := newTestManager(t, validDocument)
	before := m.Current()

	next := `{
	  "Version": {"Value": "2"},
	  "EnableMitigation": {"Value": false},
	  "Thresholds": {"NrPackets": {"Value": 50}},
	  "Performance": {
	    "SamplesBeforeInclusion": {"Value": 1},
	    "SamplesBeforeExclusion": {"Value": 1},
	    "NormalizeSamples": {"Value": false},
	    "MaxSamples": {"Value": 5}
	  }
	}`
	writeConfigFile(t, path, next)
	m.reload(context.Background())

	after := m.Current()
	require.NotSame(t, before, after)
	assert.Equal(t, "2", after.Version)

	events := bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, before.Events.ConfigurationReloaded, events[0].Topic)
	assert.Equal(t, "confwatch", events[0].Source)
	assert.Same(t, after, events[0].Payload)
}

func TestReloadPublishesUnderOldWireName(t *testing.T) {
	doc := `{
	  "EnableMitigation": {"Value": false},
	  "Thresholds": {},
	  "Performance": {
	    "SamplesBeforeInclusion": {"Value": 1},
	    "SamplesBeforeExclusion": {"Value": 1},
	    "NormalizeSamples": {"Value": false},
	    "MaxSamples": {"Value": 5}
	  },
	  "EventNames": {"ConfigurationReloaded": {"Value": "OldReloadTopic"}}
	}`
	m, bus, path := newTestManager(t, doc)

	renamed := `{
	  "EnableMitigation": {"Value": false},
	  "Thresholds": {},
	  "Performance": {
	    "SamplesBeforeInclusion": {"Value": 1},
	    "SamplesBeforeExclusion": {"Value": 1},
	    "NormalizeSamples": {"Value": false},
	    "MaxSamples": {"Value": 5}
	  },
	  "EventNames": {"ConfigurationReloaded": {"Value": "NewReloadTopic"}}
	}`
	writeConfigFile(t, path, renamed)
	m.reload(context.Background())

	events := bus.snapshot()
	require.Len(t, events, 1)
	// Subscribers registered against the old name must observe the swap.
	assert.Equal(t, "OldReloadTopic", events[0].Topic)
	assert.Equal(t, "NewReloadTopic", m.Current().Events.ConfigurationReloaded)
}

func TestReloadKeepsPreviousOnMalformedDocument(t *testing.T) {
	m, bus, path := newTestManager(t, validDocument)
	before := m.Current()

	writeConfigFile(t, path, `{"EnableMitigation": {"Value": "not a bool"}}`)
	m.reload(context.Background())

	assert.Same(t, before, m.Current())
	assert.Empty(t, bus.snapshot())
}

func TestWatchPicksUpFileReplacement(t *testing.T) {
	m, _, path := newTestManager(t, validDocument)
	require.NoError(t, m.Watch())

	next := `{
	  "Version": {"Value": "9"},
	  "EnableMitigation": {"Value": false},
	  "Thresholds": {},
	  "Performance": {
	    "SamplesBeforeInclusion": {"Value": 1},
	    "SamplesBeforeExclusion": {"Value": 1},
	    "NormalizeSamples": {"Value": false},
	    "MaxSamples": {"Value": 5}
	  }
	}`
	writeConfigFile(t, path, next)

	deadline := time.After(5 * time.Second)
	for m.Current().Version != "9" {
		select {
		case <-deadline:
			t.Fatal("watcher never applied the rewritten configuration")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t, validDocument)
	require.NoError(t, m.Watch())
	m.Stop()
	m.Stop()
}
