// Package pressure estimates device resource health from resident memory,
// thermal state, free storage and battery level, and publishes a coarse
// pressure level other components use to decide when to shed memory or
// disk usage.
package pressure
