// Package driver specifies the native compositor driver contract spec.md
// §1 lists as an external collaborator (texture creation, frame encoding,
// VSync, chaperone, property publication) and provides a minimal in-memory
// fake for tests and standalone runs. No real compositor is implemented
// here — only the synchronous boundary the CAPI layer and the streaming
// loops call into.
package driver

import "vrhostd/internal/ids"

// TrackingInfo is the fully populated legacy per-frame tracking payload
// delivered synchronously to the driver by the input_receive loop
// (spec.md §4.6).
type TrackingInfo struct {
	FrameIndex       uint64
	ClientTimeNs     uint64
	Mounted          bool
	HeadPose         Pose
	LeftHandPose     Pose
	RightHandPose    Pose
	Buttons          map[ids.PathID]ButtonState
	Skeleton         [19]ids.Vec3
	FingerConfidence [2]float32 // left, right
}

// Pose is an orientation+position+optional-velocity sample.
type Pose struct {
	Orientation ids.Quat
	Position    ids.Vec3
	HasVelocity bool
	LinearVel   ids.Vec3
	AngularVel  ids.Vec3
}

// ButtonState is one button/trigger/grip/trackpad reading.
type ButtonState struct {
	Trigger, Grip       float32
	TrackpadX, TrackpadY float32
	Flags               uint32
}

// Chaperone is the column-major-transposed 3x4 transform matrix plus
// perimeter points the playspace_sync loop delivers to SetChaperone
// (spec.md §4.6).
type Chaperone struct {
	Transform [12]float32 // 3x4, column-major-transposed
	Perimeter [][2]float32
}

// Layer is the driver-shaped two-view presentation layer
// (internal/capi translates the externally-shaped AlvrLayer into this).
type Layer struct {
	TextureID uint64
	Views     [2]LayerView
}

// FOVDegrees is one eye's field of view in degrees, as received verbatim
// from the client on the control-plane ViewsConfig packet (spec.md §4.6's
// control_loop row: "degrees preserved on this path", unlike the event-bus
// ViewsConfig publication which converts to radians and negates left/bottom).
type FOVDegrees struct {
	Left, Right, Top, Bottom float32
}

// HapticsRequest is one haptic pulse the driver asks CAPI's send_haptics
// entry point to forward to the client, per spec.md §4.6's haptics_send row
// ("outbound queues ... fed by driver callbacks through bounded channels").
type HapticsRequest struct {
	Path                            ids.PathID
	DurationS, Frequency, Amplitude float32
}

// TimeSyncEcho is the client's TimeSync control packet forwarded to the
// driver with Sequence/PacketType/AverageTotalLatencyNs zeroed, per
// spec.md §4.6's control_loop row.
type TimeSyncEcho struct {
	ClientTimeNs          uint64
	Sequence               uint64
	PacketType             uint8
	AverageTotalLatencyNs uint64
}

// LayerView is one eye's view within a presented Layer.
type LayerView struct {
	Orientation    ids.Quat
	RectOffsetX    float32
	RectOffsetY    float32
	RectWidth      float32
	RectHeight     float32
}

// Driver is the synchronous boundary the streaming supervisor and CAPI
// layer call into. A real implementation lives outside this module;
// FakeDriver below exists for tests and standalone runs.
type Driver interface {
	InitializeStreaming() error
	DeinitializeStreaming()
	InputReceive(info TrackingInfo)
	SetChaperone(c Chaperone)
	PresentLayers(syncTextureID uint64, layers []Layer, targetTimestampNs uint64)
	CreateTexture(width, height uint32, format uint32, samples uint32, isDXGIHandle bool) (textureID uint64, err error)
	DestroyTexture(id uint64)

	// RequestIDR, ReceiveTimeSync, ReceiveVideoErrorReport, ReceiveViewsConfig,
	// and ReceiveBattery are the remaining control_loop dispatch targets from
	// spec.md §4.6's control_loop row (everything besides PlayspaceSync, which
	// the supervisor forwards to playspace_sync instead).
	RequestIDR()
	ReceiveTimeSync(t TimeSyncEcho)
	ReceiveVideoErrorReport()
	ReceiveViewsConfig(ipdMeters float32, left, right FOVDegrees)
	ReceiveBattery(path ids.PathID, percent float32, plugged bool)
}

// FakeDriver is a minimal in-memory Driver recording calls, used by tests
// and by cmd/vrhostd when run without a real compositor attached.
type FakeDriver struct {
	Initialized   bool
	Deinitialized bool
	LastTracking  TrackingInfo
	LastChaperone Chaperone
	NextTextureID uint64

	IDRRequests        int
	LastTimeSync       TimeSyncEcho
	VideoErrorReports  int
	LastIPDMeters      float32
	LastLeftFOVDeg     FOVDegrees
	LastRightFOVDeg    FOVDegrees
	LastBatteryPath    ids.PathID
	LastBatteryPercent float32
	LastBatteryPlugged bool
}

func NewFakeDriver() *FakeDriver { return &FakeDriver{NextTextureID: 1} }

func (f *FakeDriver) InitializeStreaming() error { f.Initialized = true; return nil }
func (f *FakeDriver) DeinitializeStreaming()      { f.Deinitialized = true }
func (f *FakeDriver) InputReceive(info TrackingInfo) { f.LastTracking = info }
func (f *FakeDriver) SetChaperone(c Chaperone)        { f.LastChaperone = c }
func (f *FakeDriver) PresentLayers(uint64, []Layer, uint64) {}
func (f *FakeDriver) CreateTexture(uint32, uint32, uint32, uint32, bool) (uint64, error) {
	id := f.NextTextureID
	f.NextTextureID++
	return id, nil
}
func (f *FakeDriver) DestroyTexture(uint64) {}

func (f *FakeDriver) RequestIDR()                                          { f.IDRRequests++ }
func (f *FakeDriver) ReceiveTimeSync(t TimeSyncEcho)                       { f.LastTimeSync = t }
func (f *FakeDriver) ReceiveVideoErrorReport()                             { f.VideoErrorReports++ }
func (f *FakeDriver) ReceiveViewsConfig(ipdMeters float32, left, right FOVDegrees) {
	f.LastIPDMeters, f.LastLeftFOVDeg, f.LastRightFOVDeg = ipdMeters, left, right
}
func (f *FakeDriver) ReceiveBattery(path ids.PathID, percent float32, plugged bool) {
	f.LastBatteryPath, f.LastBatteryPercent, f.LastBatteryPlugged = path, percent, plugged
}
