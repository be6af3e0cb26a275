// Package platform isolates the GOOS-specific facts the CAPI property
// table needs (spec.md §6 Properties: several keys are published only on
// Windows) and the host resource probing used by the health surface.
package platform

import "runtime"

// Capabilities describes platform-gated facts consumed by the CAPI
// property query (internal/capi) when building the static OpenVR property
// table for a device.
type Capabilities struct {
	// IsOnDesktop mirrors the "is_on_desktop" property: true only when the
	// compositor is known to run as a desktop window, which this runtime
	// only models on Windows, matching spec.md's explicit gating.
	IsOnDesktop bool
	// DriverDirectModeSendsVsyncEvents mirrors
	// "driver_direct_mode_sends_vsync_events", Windows-only per spec.md.
	DriverDirectModeSendsVsyncEvents bool
	// SupportsAudioDeviceIDProperties gates whether
	// audio_default_playback/recording_device_id are published at all.
	SupportsAudioDeviceIDProperties bool
}

// DetectCapabilities returns the Capabilities for the running GOOS.
func DetectCapabilities() Capabilities {
	return platformCapabilities()
}

// HardwareSpecs holds coarse host resource information used by the health
// checker's resource check.
type HardwareSpecs struct {
	CPUCores int
	MemoryGB int
}

// DetectHardware reports CPU core count (via runtime) and total memory
// (via the platform-specific query in hardware_*.go).
func DetectHardware() HardwareSpecs {
	return HardwareSpecs{
		CPUCores: runtime.NumCPU(),
		MemoryGB: int(getMemoryBytes() / (1024 * 1024 * 1024)),
	}
}
