// Package capi implements the native driver bridge (spec.md §4.8/§6): the
// boundary the compositor driver calls into for event polling, property
// queries, texture lifecycle, VSync pacing, and layer presentation.
//
// The original re-architecture note (spec.md §9) calls for replacing a set
// of process-wide mutable singletons with an explicit Runtime context built
// once at Initialize and looked up by every entry point thereafter; that is
// exactly what Runtime below is.
package capi

import (
	"context"
	"fmt"
	"time"

	"vrhostd/internal/driver"
	"vrhostd/internal/eventbus"
	"vrhostd/internal/ids"
	"vrhostd/internal/logging"
)

// FrameTime is the initial VSync cadence (1/72s), per spec.md §4.8.
const FrameTime = time.Second / 72

// Property is one key/value entry returned by GetStaticOpenvrProperties.
type Property struct {
	Key   string
	Value any
}

// SessionInfo is the subset of the persisted session the property query and
// serial number composition need.
type SessionInfo struct {
	HeadsetSerial         string
	LeftControllerSerial  string
	RightControllerSerial string
	ControllerType        string
	DriverVersion         string
	OnDesktop             bool // Windows-only property gate
	DirectModeSendsVsync  bool // Windows-only property gate
	SupportsAudioDeviceID bool // gates audio_default_playback/recording_device_id, Windows-only
	DefaultPlaybackDevice string
	DefaultRecordDevice   string
}

// Runtime is the single process-scope holder constructed at Initialize and
// referenced by every CAPI entry point — the Go equivalent of the
// original's collection of mutable statics (event sender/receiver, VSync
// clock, session manager reference, window handle).
type Runtime struct {
	Driver  driver.Driver
	Bus     *eventbus.Bus
	Logger  logging.Logger
	Session SessionInfo

	lastVsync time.Time
	frameTime time.Duration

	haptics chan driver.HapticsRequest
}

// hapticsQueueCapacity bounds the haptics_send mpsc the driver feeds through
// SendHaptics, so it is a bounded best-effort queue like the event bus
// rather than an unbounded one (spec.md §4.6: "outbound queues ... fed by
// driver callbacks through bounded channels").
const hapticsQueueCapacity = 64

// Initialize constructs the process-scope Runtime. There is no graphics
// context or rendering-stats callback to plumb in this module (no real
// compositor is implemented, per the Non-goals), so this just wires the
// collaborators the rest of the runtime already built.
func Initialize(d driver.Driver, bus *eventbus.Bus, logger logging.Logger, session SessionInfo) *Runtime {
	return &Runtime{
		Driver:    d,
		Bus:       bus,
		Logger:    logger,
		Session:   session,
		lastVsync: time.Now(),
		frameTime: FrameTime,
		haptics:   make(chan driver.HapticsRequest, hapticsQueueCapacity),
	}
}

// HapticsChannel is the consumer end of the queue SendHaptics feeds, wired
// into the streaming supervisor's haptics_send loop (spec.md §4.6).
func (r *Runtime) HapticsChannel() <-chan driver.HapticsRequest {
	return r.haptics
}

// Shutdown posts a Shutdown event, per spec.md §6's "exit codes / signals".
func (r *Runtime) Shutdown() {
	r.Bus.Post(eventbus.Event{Kind: eventbus.Shutdown})
}

// PathStringToHash exposes ids.HashPath at the CAPI boundary.
func (r *Runtime) PathStringToHash(path string) ids.PathID {
	return ids.HashPath(path)
}

// ReadEvent polls the bus for up to timeout.
func (r *Runtime) ReadEvent(timeout time.Duration) eventbus.Event {
	return r.Bus.Read(timeout)
}

// GetSerialNumber composes a device's serial number, suffixing _Left/_Right
// for hands, and truncates it into a caller-sized buffer, per spec.md §4.8.
func (r *Runtime) GetSerialNumber(path ids.PathID, maxLength int) []byte {
	var serial string
	switch {
	case path == ids.LeftHandID:
		serial = r.Session.LeftControllerSerial + "_Left"
	case path == ids.RightHandID:
		serial = r.Session.RightControllerSerial + "_Right"
	default:
		serial = r.Session.HeadsetSerial
	}
	return ids.PackString(serial, maxLength)
}

// GetStaticOpenvrProperties builds the key/value list for path. If max <= 0
// (the "out == null" case), it returns only the required count. Unsupported
// paths return zero entries and log a warning, per spec.md §4.8.
func (r *Runtime) GetStaticOpenvrProperties(path ids.PathID, max int) (props []Property, count int) {
	all := r.staticProperties(path)
	if all == nil {
		if r.Logger != nil {
			r.Logger.WithField("path", uint64(path)).Warn("get_static_openvr_properties: unsupported device path")
		}
		return nil, 0
	}
	if max <= 0 {
		return nil, len(all)
	}
	if max < len(all) {
		all = all[:max]
	}
	return all, len(all)
}

func (r *Runtime) staticProperties(path ids.PathID) []Property {
	switch path {
	case ids.HeadID:
		props := []Property{
			{"tracking_system_name", "vrhostd"},
			{"model_number", "vrhostd HMD"},
			{"manufacturer_name", "vrhostd"},
			{"render_model_name", "vrhostd_hmd"},
			{"registered_device_type", "vrhostd/hmd"},
			{"driver_version", r.Session.DriverVersion},
			{"seconds_from_vsync_to_photons", float32(0)},
			{"current_universe_id", uint64(1)},
			{"device_provides_battery_status", true},
		}
		if r.Session.OnDesktop {
			props = append(props, Property{"is_on_desktop", true})
		}
		if r.Session.DirectModeSendsVsync {
			props = append(props, Property{"driver_direct_mode_sends_vsync_events", true})
		}
		if r.Session.SupportsAudioDeviceID && r.Session.DefaultPlaybackDevice != "" {
			props = append(props, Property{"audio_default_playback_device_id", r.Session.DefaultPlaybackDevice})
		}
		if r.Session.SupportsAudioDeviceID && r.Session.DefaultRecordDevice != "" {
			props = append(props, Property{"audio_default_recording_device_id", r.Session.DefaultRecordDevice})
		}
		return props
	case ids.LeftHandID, ids.RightHandID:
		return []Property{
			{"tracking_system_name", "vrhostd"},
			{"model_number", "vrhostd Controller"},
			{"manufacturer_name", "vrhostd"},
			{"render_model_name", "vrhostd_controller"},
			{"registered_device_type", "vrhostd/controller"},
			{"controller_type", r.Session.ControllerType},
			{"device_provides_battery_status", true},
		}
	default:
		return nil
	}
}

// CreateTexture and DestroyTexture pass straight through to the driver.
func (r *Runtime) CreateTexture(width, height, format, samples uint32, isDXGIHandle bool) (uint64, error) {
	return r.Driver.CreateTexture(width, height, format, samples, isDXGIHandle)
}

func (r *Runtime) DestroyTexture(id uint64) {
	r.Driver.DestroyTexture(id)
}

// WaitForVsync sleeps until lastVsync+frameTime, capped by timeout, then
// advances lastVsync by exactly frameTime — so cumulative drift is bounded
// by scheduling jitter, not by the sleep duration, per spec.md §4.8. This
// performs a real, blocking sleep and must only be called from a driver
// thread, never from a cooperative streaming-loop goroutine (spec.md §5).
func (r *Runtime) WaitForVsync(timeout time.Duration) {
	target := r.lastVsync.Add(r.frameTime)
	wait := time.Until(target)
	if wait > timeout {
		wait = timeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	r.lastVsync = r.lastVsync.Add(r.frameTime)
}

// AlvrLayer is the externally-shaped two-view presentation layer the driver
// submits for presentation, per spec.md §4.8's "Layer present" operation.
type AlvrLayer struct {
	TextureID uint64
	Views     [2]AlvrLayerView
}

// AlvrLayerView is one eye's view within an AlvrLayer.
type AlvrLayerView struct {
	Orientation ids.Quat
	RectOffsetX, RectOffsetY float32
	RectWidth, RectHeight    float32
}

// PresentLayers translates the externally-shaped layers into the driver's
// Layer type and calls PresentLayers, per spec.md §4.8.
func (r *Runtime) PresentLayers(syncTextureID uint64, layers []AlvrLayer, targetTimestampNs uint64) {
	translated := make([]driver.Layer, len(layers))
	for i, l := range layers {
		var views [2]driver.LayerView
		for v := 0; v < 2; v++ {
			lv := l.Views[v]
			views[v] = driver.LayerView{
				Orientation: lv.Orientation,
				RectOffsetX: lv.RectOffsetX,
				RectOffsetY: lv.RectOffsetY,
				RectWidth:   lv.RectWidth,
				RectHeight:  lv.RectHeight,
			}
		}
		translated[i] = driver.Layer{TextureID: l.TextureID, Views: views}
	}
	r.Driver.PresentLayers(syncTextureID, translated, targetTimestampNs)
}

// SendHaptics enqueues a haptic pulse for haptics_send to forward to the
// client. Best-effort: a full queue drops the oldest pending pulse rather
// than blocking the driver's calling thread. (The event bus is also
// non-blocking when full, but it drops the new event instead.)
func (r *Runtime) SendHaptics(path ids.PathID, durationS, frequency, amplitude float32) {
	req := driver.HapticsRequest{Path: path, DurationS: durationS, Frequency: frequency, Amplitude: amplitude}
	select {
	case r.haptics <- req:
	default:
		select {
		case <-r.haptics:
		default:
		}
		select {
		case r.haptics <- req:
		default:
		}
	}
}

// GetBestEffortClientTimeNs always returns 0 — spec.md §9 documents this as
// an intentional no-op left as-is from the original, not silently
// "improved" here.
func (r *Runtime) GetBestEffortClientTimeNs(ids.PathID) uint64 {
	return 0
}

// PopupError, Error, Warning, Info, Debug are the driver's logging/alert
// entry points, routed to the shared structured logger.
func (r *Runtime) PopupError(msg string) {
	if r.Logger != nil {
		r.Logger.WithField("popup", true).Error(msg)
	}
}

func (r *Runtime) Error(msg string) {
	if r.Logger != nil {
		r.Logger.Error(msg)
	}
}

func (r *Runtime) Warning(msg string) {
	if r.Logger != nil {
		r.Logger.Warn(msg)
	}
}

func (r *Runtime) Info(msg string) {
	if r.Logger != nil {
		r.Logger.Info(msg)
	}
}

func (r *Runtime) Debug(msg string) {
	if r.Logger != nil {
		r.Logger.Debug(msg)
	}
}

// WaitForEventContext is a context-aware variant of ReadEvent for callers
// that want to give up early (e.g. on process shutdown) rather than block
// for the full timeout.
func (r *Runtime) WaitForEventContext(ctx context.Context, timeout time.Duration) (eventbus.Event, error) {
	done := make(chan eventbus.Event, 1)
	go func() { done <- r.ReadEvent(timeout) }()
	select {
	case e := <-done:
		return e, nil
	case <-ctx.Done():
		return eventbus.Event{}, fmt.Errorf("capi: wait for event: %w", ctx.Err())
	}
}
