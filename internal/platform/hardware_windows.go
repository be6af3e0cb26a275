//go:build windows

package platform

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// getMemoryBytes returns total system memory in bytes on Windows via
// GlobalMemoryStatusEx.
func getMemoryBytes() uint64 {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return 0
	}
	return status.TotalPhys
}

func platformCapabilities() Capabilities {
	return Capabilities{
		IsOnDesktop:                      true,
		DriverDirectModeSendsVsyncEvents: true,
		SupportsAudioDeviceIDProperties:  true,
	}
}
