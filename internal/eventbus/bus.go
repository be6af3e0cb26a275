// Package eventbus implements the multi-producer/single-consumer bounded
// channel that carries driver-bound events from the streaming loops to the
// native driver's polling thread.
package eventbus

import (
	"time"

	"vrhostd/internal/ids"
	"vrhostd/internal/telemetry"
)

// Kind discriminates the tagged union of events the bus carries. Each
// variant is kept small and copyable, except HandSkeleton which is
// documented as an oversized exception (see Event.Skeleton).
type Kind int

const (
	None Kind = iota
	DeviceConnected
	DeviceDisconnected
	OpenvrProperty
	VideoConfig
	ViewsConfig
	DevicePose
	Button
	HandSkeleton
	Battery
	Bounds
	Restart
	Shutdown
)

// DeviceProfile describes a device at connection time.
type DeviceProfile struct {
	PathID             ids.PathID
	InteractionProfile uint64
}

// ButtonValue is either a float or a boolean button reading; exactly one of
// the two fields is meaningful, selected by IsFloat.
type ButtonValue struct {
	IsFloat bool
	Float   float32
	Bool    bool
}

// Event is the tagged union posted to the bus. Only the fields relevant to
// Kind are populated; the rest are zero value.
type Event struct {
	Kind Kind

	Device     DeviceProfile
	DevicePath ids.PathID

	PropertyKey   string
	PropertyValue any

	PreferredWidth  uint32
	PreferredHeight uint32

	ViewFOVs [2]FOV

	Pose Pose

	ButtonPath ids.PathID
	ButtonVal  ButtonValue

	Skeleton [19]ids.Vec3

	BatteryPath    ids.PathID
	BatteryPercent float32
	BatteryPlugged bool

	BoundsWidth  float32
	BoundsHeight float32
}

// FOV is a field of view in radians, left/bottom negated to match the
// native driver's convention (see ids.DegreesToRadians and the streaming
// package's fovDegreesToRadians).
type FOV struct{ Left, Right, Top, Bottom float32 }

// Pose is an orientation+position sample for a tracked device.
type Pose struct {
	PathID      ids.PathID
	Orientation ids.Quat
	Position    ids.Vec3
	HasVelocity bool
	LinearVel   ids.Vec3
	AngularVel  ids.Vec3
}

// Bus is the bounded channel between streaming loops (producers) and the
// native driver's poll loop (the single consumer).
type Bus struct {
	ch chan Event
}

// New creates a bus with the given channel capacity.
func New(capacity int) *Bus {
	return &Bus{ch: make(chan Event, capacity)}
}

// Post is a best-effort send: it never blocks the caller beyond a single
// atomic enqueue. If the channel is full or the receiver is gone, the event
// is silently dropped — per spec, event-bus sends are best-effort and their
// failures are not surfaced.
func (b *Bus) Post(e Event) {
	select {
	case b.ch <- e:
	default:
	}
	telemetry.EventBusDepth.Set(float64(len(b.ch)))
}

// Read blocks up to timeout for the next event, returning the zero-value
// None event on timeout without blocking further. timeout == 0 returns
// immediately.
func (b *Bus) Read(timeout time.Duration) Event {
	if timeout <= 0 {
		select {
		case e := <-b.ch:
			telemetry.EventBusDepth.Set(float64(len(b.ch)))
			return e
		default:
			return Event{Kind: None}
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case e := <-b.ch:
		telemetry.EventBusDepth.Set(float64(len(b.ch)))
		return e
	case <-t.C:
		return Event{Kind: None}
	}
}
