package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/mnemo-app/mnemo/internal/cache"
	"github.com/mnemo-app/mnemo/internal/config"
	"github.com/mnemo-app/mnemo/internal/pressure"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Cache.Dir = t.TempDir()
	cfg.Audio.Dir = t.TempDir()
	cfg.Pressure.CheckInterval = 20 * time.Millisecond
	cfg.Audio.CleanupInterval = time.Hour // Keep the periodic loop quiet.
	return cfg
}

func TestOpen_WiresComponents(t *testing.T) {
	source := pressure.NewFakeSource()
	s, err := Open(testConfig(t), source, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.Monitor == nil || s.Cache == nil || s.Audio == nil {
		t.Fatal("Open must wire all three components")
	}

	s.Cache.Set("memo-1", cache.CategoryTranscription, []byte("hello"))
	if _, ok := s.Cache.Get("memo-1", cache.CategoryTranscription); !ok {
		t.Error("cache not usable through the composition root")
	}
}

func TestOpen_PressureTriggersCacheEviction(t *testing.T) {
	source := pressure.NewFakeSource()
	s, err := Open(testConfig(t), source, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 20; i++ {
		s.Cache.Set(fmt.Sprintf("memo-%d", i), cache.CategoryAnalysis, []byte("payload"))
	}
	before := s.Cache.Statistics().MemoryItems
	if before != 20 {
		t.Fatalf("memory items = %d, want 20", before)
	}

	// Drop free storage under the warning threshold and wait for the
	// monitor's next cycle to fan out to the cache.
	source.SetFree(500 * 1024 * 1024)
	source.Kick()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Cache.Statistics().MemoryItems < before {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	after := s.Cache.Statistics().MemoryItems
	if after >= before {
		t.Fatalf("memory items = %d, want fewer than %d after pressure", after, before)
	}
	// A memory shed must never touch the durable tier.
	if s.Cache.Statistics().DurableItems != 20 {
		t.Errorf("durable items = %d, want 20", s.Cache.Statistics().DurableItems)
	}
}

func TestStorage_CloseIsClean(t *testing.T) {
	source := pressure.NewFakeSource()
	s, err := Open(testConfig(t), source, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.Cache.Set("memo", cache.CategoryUserPreferences, []byte("settings"))

	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
