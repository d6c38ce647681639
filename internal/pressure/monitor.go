package pressure

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultCheckInterval is the periodic sampling cadence.
	DefaultCheckInterval = 15 * time.Second

	// Dynamic thresholds scale with total device RAM. The floors keep
	// small-RAM devices from tripping constantly while large-RAM devices
	// still get meaningful headroom.
	pressureRAMFraction = 0.08
	criticalRAMFraction = 0.15
	pressureFloorBytes  = 200 * 1024 * 1024
	criticalFloorBytes  = 400 * 1024 * 1024

	// fallbackTotalRAMBytes stands in for total device RAM when it cannot
	// be queried (sandboxed and test environments), keeping the derived
	// thresholds deterministic: 4 GiB.
	fallbackTotalRAMBytes = 4 * 1024 * 1024 * 1024

	// Storage and battery trip points
	lowStorageBytes      = 1024 * 1024 * 1024
	criticalStorageBytes = 100 * 1024 * 1024
	lowBatteryFraction   = 0.20
)

// Monitor periodically samples a Source, derives the pressure level from
// dynamic thresholds, and notifies subscribers on level transitions only
// (edge-triggered, so a sustained condition does not storm consumers).
type Monitor struct {
	source   Source
	interval time.Duration
	logger   *log.Logger

	mu            sync.Mutex
	metrics       Metrics
	level         Level
	underPressure bool
	subscribers   []func(Level)
	running       bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor creates a monitor over the given source. A zero interval
// selects DefaultCheckInterval.
func NewMonitor(source Source, interval time.Duration, logger *log.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Monitor{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// StartMonitoring begins the periodic check loop and watches the source's
// OS notification channel. It is idempotent: a running monitor ignores
// repeated starts.
func (m *Monitor) StartMonitoring() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
}

// StopMonitoring cancels the loop. Safe to call repeatedly.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
}

// ForceCheck triggers one check cycle asynchronously and returns the
// current, pre-update pressure flag for on-demand probes.
func (m *Monitor) ForceCheck() bool {
	m.mu.Lock()
	flag := m.underPressure
	m.mu.Unlock()

	go m.check()
	return flag
}

// CurrentMetrics returns the last computed snapshot.
func (m *Monitor) CurrentMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// CurrentLevel returns the last derived pressure level.
func (m *Monitor) CurrentLevel() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// UnderPressure reports the last derived pressure flag.
func (m *Monitor) UnderPressure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.underPressure
}

// Subscribe registers a callback invoked on every level transition. The
// callback runs on the monitor goroutine and must not block.
func (m *Monitor) Subscribe(fn func(Level)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Seed state so the first transition is observed relative to reality.
	m.check()

	events := m.source.Notifications()
	for {
		select {
		case <-ticker.C:
			m.check()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// OS pressure events force an immediate full check.
			m.check()
		case <-m.stop:
			return
		}
	}
}

// check runs one full sampling cycle. A failed read of any one signal
// degrades that signal to a safe default; the cycle itself never fails.
func (m *Monitor) check() {
	metrics, level := m.sample()

	m.mu.Lock()
	m.metrics = metrics
	previous := m.level
	m.level = level
	m.underPressure = level != LevelNormal

	var notify []func(Level)
	if level != previous {
		notify = append(notify, m.subscribers...)
	}
	m.mu.Unlock()

	if level != previous {
		m.logger.Info("pressure level changed",
			"from", previous.String(), "to", level.String(),
			"resident_mb", metrics.ResidentMB,
			"free_gb", metrics.AvailableStorageGB,
			"thermal", metrics.Thermal.String())
	}

	for _, fn := range notify {
		fn(level)
	}
}

// sample reads every signal and derives the level from the thresholds.
func (m *Monitor) sample() (Metrics, Level) {
	metrics := Metrics{
		BatteryLevel: BatteryUnknown,
		SampledAt:    time.Now(),
	}

	total, err := m.source.TotalMemory()
	if err != nil || total == 0 {
		if err != nil {
			m.logger.Debug("total memory unavailable, using fallback", "error", err)
		}
		total = fallbackTotalRAMBytes
	}
	pressureThreshold := maxUint64(pressureFloorBytes, uint64(float64(total)*pressureRAMFraction))
	criticalThreshold := maxUint64(criticalFloorBytes, uint64(float64(total)*criticalRAMFraction))

	resident, err := m.source.ResidentMemory()
	if err != nil {
		m.logger.Debug("resident memory read failed", "error", err)
		resident = 0
	}
	metrics.ResidentMB = float64(resident) / (1024 * 1024)

	free, err := m.source.AvailableStorage()
	if err != nil {
		// Degrade to "plenty of storage" rather than failing the cycle.
		m.logger.Debug("storage query failed", "error", err)
		free = lowStorageBytes * 2
	}
	metrics.AvailableStorageGB = float64(free) / (1024 * 1024 * 1024)

	if battery, err := m.source.BatteryLevel(); err == nil {
		metrics.BatteryLevel = battery
	}

	thermal, err := m.source.Thermal()
	if err != nil {
		thermal = ThermalNominal
	}
	metrics.Thermal = thermal

	if cpuPct, err := m.source.CPUPercent(); err == nil {
		metrics.CPUPercent = cpuPct
	}

	level := LevelNormal
	raise := func(l Level) {
		if l > level {
			level = l
		}
	}

	switch {
	case resident > criticalThreshold:
		raise(LevelCritical)
	case resident > pressureThreshold:
		raise(LevelWarning)
	}

	switch {
	case thermal >= ThermalCritical:
		raise(LevelCritical)
	case thermal >= ThermalSerious:
		raise(LevelWarning)
	}

	switch {
	case free < criticalStorageBytes:
		raise(LevelCritical)
	case free < lowStorageBytes:
		raise(LevelWarning)
	}

	// Battery check is skipped entirely when the level is unknown.
	if metrics.BatteryLevel >= 0 && metrics.BatteryLevel < lowBatteryFraction {
		raise(LevelWarning)
	}

	return metrics, level
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
