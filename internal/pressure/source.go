package pressure

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/shirou/gopsutil/v4/sensors"
)

// Source supplies the raw resource signals the monitor samples each cycle.
// Implementations must be safe for use from the monitor goroutine. The
// production implementation is SystemSource; tests drive a FakeSource.
type Source interface {
	// ResidentMemory returns this process's resident set size in bytes.
	ResidentMemory() (uint64, error)

	// TotalMemory returns the device's total RAM in bytes.
	TotalMemory() (uint64, error)

	// AvailableStorage returns free bytes at the monitored storage root.
	AvailableStorage() (uint64, error)

	// BatteryLevel returns the charge fraction in 0..1, or BatteryUnknown.
	BatteryLevel() (float64, error)

	// Thermal returns the device thermal classification.
	Thermal() (ThermalState, error)

	// CPUPercent returns overall CPU usage since the previous call.
	CPUPercent() (float64, error)

	// Notifications returns a channel carrying OS-level pressure events
	// that force an immediate check, or nil when the platform has none.
	Notifications() <-chan struct{}
}

// SystemSource reads real device signals through gopsutil.
type SystemSource struct {
	storagePath string
	proc        *process.Process
}

// NewSystemSource creates an OS-backed source monitoring free space at
// storagePath.
func NewSystemSource(storagePath string) (*SystemSource, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open current process: %w", err)
	}

	return &SystemSource{
		storagePath: storagePath,
		proc:        proc,
	}, nil
}

// ResidentMemory returns the process RSS in bytes.
func (s *SystemSource) ResidentMemory() (uint64, error) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// TotalMemory returns total device RAM in bytes.
func (s *SystemSource) TotalMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// AvailableStorage returns free bytes on the volume holding storagePath.
func (s *SystemSource) AvailableStorage() (uint64, error) {
	usage, err := disk.Usage(s.storagePath)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// BatteryLevel reads the battery charge fraction from the power-supply
// sysfs tree where available and reports BatteryUnknown everywhere else.
func (s *SystemSource) BatteryLevel() (float64, error) {
	supplies, err := os.ReadDir("/sys/class/power_supply")
	if err != nil {
		return BatteryUnknown, nil
	}

	for _, supply := range supplies {
		capPath := filepath.Join("/sys/class/power_supply", supply.Name(), "capacity")
		data, err := os.ReadFile(capPath)
		if err != nil {
			continue
		}
		percent, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			continue
		}
		return float64(percent) / 100.0, nil
	}

	return BatteryUnknown, nil
}

// Thermal classifies the hottest sensor reading against its own high and
// critical trip points. Missing sensors read as nominal.
func (s *SystemSource) Thermal() (ThermalState, error) {
	temps, err := sensors.SensorsTemperatures()
	if err != nil {
		return ThermalNominal, err
	}

	state := ThermalNominal
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		switch {
		case t.Critical > 0 && t.Temperature >= t.Critical:
			return ThermalCritical, nil
		case t.High > 0 && t.Temperature >= t.High:
			if state < ThermalSerious {
				state = ThermalSerious
			}
		case t.High > 0 && t.Temperature >= t.High*0.8:
			if state < ThermalFair {
				state = ThermalFair
			}
		}
	}

	return state, nil
}

// CPUPercent returns overall CPU usage since the previous call.
func (s *SystemSource) CPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// Notifications returns nil; there is no portable user-space hook for OS
// memory-pressure events, so the periodic cadence carries the load.
func (s *SystemSource) Notifications() <-chan struct{} {
	return nil
}
