package pressure

import "sync"

// FakeSource is a fully scriptable Source for tests. Every signal can be
// set independently, errors can be injected per signal, and Kick delivers
// a synthetic OS pressure event.
type FakeSource struct {
	mu sync.Mutex

	resident uint64
	total    uint64
	free     uint64
	battery  float64
	thermal  ThermalState
	cpu      float64

	residentErr error
	totalErr    error
	freeErr     error

	events chan struct{}
}

// NewFakeSource returns a fake source with comfortable defaults: a small
// resident set, 8GB of RAM, plenty of storage and an unknown battery.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		resident: 50 * 1024 * 1024,
		total:    8 * 1024 * 1024 * 1024,
		free:     100 * 1024 * 1024 * 1024,
		battery:  BatteryUnknown,
		thermal:  ThermalNominal,
		events:   make(chan struct{}, 4),
	}
}

// SetResident sets the reported resident memory in bytes.
func (f *FakeSource) SetResident(bytes uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resident = bytes
}

// SetTotal sets the reported total RAM in bytes.
func (f *FakeSource) SetTotal(bytes uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total = bytes
}

// SetFree sets the reported free storage in bytes.
func (f *FakeSource) SetFree(bytes uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.free = bytes
}

// SetBattery sets the reported battery fraction (BatteryUnknown to skip).
func (f *FakeSource) SetBattery(level float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.battery = level
}

// SetThermal sets the reported thermal state.
func (f *FakeSource) SetThermal(state ThermalState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thermal = state
}

// SetCPU sets the reported CPU usage percentage.
func (f *FakeSource) SetCPU(percent float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpu = percent
}

// FailTotal injects an error into TotalMemory reads.
func (f *FakeSource) FailTotal(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totalErr = err
}

// FailFree injects an error into AvailableStorage reads.
func (f *FakeSource) FailFree(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeErr = err
}

// FailResident injects an error into ResidentMemory reads.
func (f *FakeSource) FailResident(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.residentErr = err
}

// Kick delivers a synthetic OS pressure event.
func (f *FakeSource) Kick() {
	select {
	case f.events <- struct{}{}:
	default:
	}
}

// ResidentMemory implements Source.
func (f *FakeSource) ResidentMemory() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resident, f.residentErr
}

// TotalMemory implements Source.
func (f *FakeSource) TotalMemory() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.totalErr
}

// AvailableStorage implements Source.
func (f *FakeSource) AvailableStorage() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free, f.freeErr
}

// BatteryLevel implements Source.
func (f *FakeSource) BatteryLevel() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.battery, nil
}

// Thermal implements Source.
func (f *FakeSource) Thermal() (ThermalState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thermal, nil
}

// CPUPercent implements Source.
func (f *FakeSource) CPUPercent() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpu, nil
}

// Notifications implements Source.
func (f *FakeSource) Notifications() <-chan struct{} {
	return f.events
}
