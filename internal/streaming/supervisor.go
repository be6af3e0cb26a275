// Package streaming implements the Streaming Supervisor (spec.md §4.6): once
// a handshake has completed, this owns the data-plane socket and the set of
// concurrent loops that move video, audio, haptics, input, and playspace
// data between the driver and the client for the lifetime of one connection.
//
// Concurrency follows golang.org/x/sync/errgroup (grounded in
// ManuGH-xg2g/internal/daemon/app.go's supervisor goroutine group), which
// gives the same "first loop to end cancels every other loop" semantics the
// original tokio::select! over task handles has: every loop either runs
// until ctx is canceled by a sibling, or is itself the first to finish and
// returns a non-nil reason, which cancels the rest.
package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"vrhostd/internal/driver"
	"vrhostd/internal/errs"
	"vrhostd/internal/eventbus"
	"vrhostd/internal/ids"
	"vrhostd/internal/logging"
	"vrhostd/internal/telemetry"
	"vrhostd/internal/transport"
)

// KeepaliveInterval is NETWORK_KEEPALIVE_INTERVAL from spec.md §4.6.
const KeepaliveInterval = time.Second

// StreamSetupTimeout bounds how long opening the data-plane socket may take
// before it is treated as a hard failure, per spec.md §4.6 step 1.
const StreamSetupTimeout = 5 * time.Second

// VideoFrame is one encoded frame handed to video_send by the driver's
// encode callback.
type VideoFrame struct {
	Header  []byte
	Payload []byte
}

// PlayspaceSyncPacket carries the client's room-scale boundary update, per
// spec.md §4.6's playspace_sync row.
type PlayspaceSyncPacket struct {
	Rotation    ids.Quat
	Translation ids.Vec3
	Perimeter   [][2]float32
}

// InputUpdate is the decoded payload of one INPUT channel message: per-eye
// FOV plus the head/hand motions and button state for one client frame.
type InputUpdate struct {
	IPDMeters               float32
	LeftEyeFOV, RightEyeFOV eventbus.FOV
	Head, LeftHand, RightHand driver.Pose
	HasLeftHand, HasRightHand bool
	Buttons                  map[ids.PathID]driver.ButtonState
	Skeleton                 [19]ids.Vec3
	FingerConfidence         [2]float32
	FrameIndex               uint64
	ClientTimeNs             uint64
	Mounted                  bool
}

// Deps bundles the collaborators and feeds the supervisor needs.
type Deps struct {
	Driver  driver.Driver
	Bus     *eventbus.Bus
	Control transport.ControlSocket
	Dialer  transport.Dialer
	Logger  logging.Logger

	ClientAddr string

	ControllersEnabled bool
	TrackingRefOnly    bool
	GameAudioEnabled   bool
	MicrophoneEnabled  bool
	GameAudioFrames    <-chan []byte // produced by the audio capturer loop when started elsewhere
	MicrophoneFrames   chan<- []byte
	GameAudioDeviceID  string
	MicrophoneDeviceID string

	PreferredWidth, PreferredHeight uint32

	OnConnectScript    string
	OnDisconnectScript string

	VideoFrames  <-chan VideoFrame
	TimeSyncs    <-chan []byte
	HapticsOut   <-chan driver.HapticsRequest

	// StreamSetupTimeout and KeepaliveInterval override the package
	// defaults above when nonzero, so the running config controls pacing
	// instead of a compiled-in constant.
	StreamSetupTimeout time.Duration
	KeepaliveInterval  time.Duration
}

func (d Deps) streamSetupTimeout() time.Duration {
	if d.StreamSetupTimeout > 0 {
		return d.StreamSetupTimeout
	}
	return StreamSetupTimeout
}

func (d Deps) keepaliveInterval() time.Duration {
	if d.KeepaliveInterval > 0 {
		return d.KeepaliveInterval
	}
	return KeepaliveInterval
}

// interactionProfileOculusTouch is hash("/interaction_profiles/oculus/touch_controller").
var interactionProfileOculusTouch = uint64(ids.HashPath("/interaction_profiles/oculus/touch_controller"))

// errKeepaliveFailed is the keepalive loop's "this loop is the reason we
// stopped" error; a loop that sees a sibling-triggered cancellation returns
// nil instead.
var errKeepaliveFailed = errors.New("keepalive send failed, client disconnected")

// Run opens the data-plane stream socket, publishes initial driver events,
// initializes the driver, and runs every concurrent loop until the first one
// ends; it then tears down unconditionally and returns the terminating
// error (nil if the caller's ctx was canceled deliberately, e.g. shutdown).
func Run(ctx context.Context, deps Deps) error {
	dialCtx, cancelDial := context.WithTimeout(ctx, deps.streamSetupTimeout())
	stream, err := deps.Dialer.DialStream(dialCtx, deps.ClientAddr)
	cancelDial()
	if err != nil {
		return errs.WrapHard(fmt.Errorf("streaming: open data-plane socket: %w", err))
	}

	if deps.Logger != nil {
		deps.Logger.WithField("client", deps.ClientAddr).Info("ClientConnected")
	}
	runScript(deps.OnConnectScript, deps.Logger)

	deps.Bus.Post(eventbus.Event{Kind: eventbus.DeviceConnected, Device: eventbus.DeviceProfile{PathID: ids.HeadID}})
	deps.Bus.Post(eventbus.Event{Kind: eventbus.VideoConfig, PreferredWidth: deps.PreferredWidth, PreferredHeight: deps.PreferredHeight})
	if deps.ControllersEnabled {
		deps.Bus.Post(eventbus.Event{Kind: eventbus.DeviceConnected, Device: eventbus.DeviceProfile{PathID: ids.LeftHandID, InteractionProfile: interactionProfileOculusTouch}})
		deps.Bus.Post(eventbus.Event{Kind: eventbus.DeviceConnected, Device: eventbus.DeviceProfile{PathID: ids.RightHandID, InteractionProfile: interactionProfileOculusTouch}})
	}

	if err := deps.Driver.InitializeStreaming(); err != nil {
		stream.Close()
		return errs.WrapHard(fmt.Errorf("streaming: initialize driver streaming: %w", err))
	}
	telemetry.StreamingActive.Set(1)
	defer func() {
		deps.Driver.DeinitializeStreaming()
		stream.Close()
		runScript(deps.OnDisconnectScript, deps.Logger)
		telemetry.StreamingActive.Set(0)
	}()

	g, gctx := errgroup.WithContext(ctx)

	inputCh := make(chan InputUpdate, 8)
	playspaceCh := make(chan PlayspaceSyncPacket, 1)

	g.Go(func() error { return videoSendLoop(gctx, deps, stream) })
	g.Go(func() error { return timeSyncSendLoop(gctx, deps) })
	g.Go(func() error { return hapticsSendLoop(gctx, deps, stream) })
	if deps.GameAudioEnabled {
		g.Go(func() error { return gameAudioLoop(gctx, deps, stream) })
	}
	if deps.MicrophoneEnabled {
		g.Go(func() error { return microphoneLoop(gctx, deps, stream) })
	}
	g.Go(func() error { return inputReceiveLoop(gctx, deps, inputCh) })
	if !deps.TrackingRefOnly {
		g.Go(func() error { return playspaceSyncLoop(gctx, deps, playspaceCh) })
	}
	g.Go(func() error { return keepaliveLoop(gctx, deps) })
	g.Go(func() error { return controlLoop(gctx, deps, playspaceCh) })
	g.Go(func() error { return receiveLoop(gctx, deps, stream, inputCh) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runScript(path string, logger logging.Logger) {
	if path == "" {
		return
	}
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil && logger != nil {
		logger.WithField("script", path).WithField("error", err).Warn("failed to spawn lifecycle script")
		return
	}
	go cmd.Wait() //nolint:errcheck // fire-and-forget, per spec.md "spawn, don't wait"
}

func videoSendLoop(ctx context.Context, deps Deps, stream transport.StreamSocket) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-deps.VideoFrames:
			if !ok {
				return fmt.Errorf("streaming: video frame source closed")
			}
			msg := transport.StreamMessage{Channel: transport.ChannelVideo, Header: frame.Header, Payload: frame.Payload}
			if err := stream.Send(ctx, msg); err != nil {
				return fmt.Errorf("streaming: send video frame: %w", err)
			}
		}
	}
}

func timeSyncSendLoop(ctx context.Context, deps Deps) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-deps.TimeSyncs:
			if !ok {
				return fmt.Errorf("streaming: time sync source closed")
			}
			if err := deps.Control.Send(ctx, transport.ControlPacket{Kind: transport.PacketTimeSync, Payload: payload}); err != nil {
				return fmt.Errorf("streaming: send time sync: %w", err)
			}
		}
	}
}

func hapticsSendLoop(ctx context.Context, deps Deps, stream transport.StreamSocket) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case h, ok := <-deps.HapticsOut:
			if !ok {
				return fmt.Errorf("streaming: haptics source closed")
			}
			payload, err := json.Marshal(h)
			if err != nil {
				continue
			}
			if err := stream.Send(ctx, transport.StreamMessage{Channel: transport.ChannelHaptics, Payload: payload}); err != nil {
				return fmt.Errorf("streaming: send haptics: %w", err)
			}
		}
	}
}

func gameAudioLoop(ctx context.Context, deps Deps, stream transport.StreamSocket) error {
	publishAudioDevice(deps.Bus, "game_audio_device_id", deps.GameAudioDeviceID)
	defer publishAudioDevice(deps.Bus, "game_audio_device_id", deps.GameAudioDeviceID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-deps.GameAudioFrames:
			if !ok {
				return fmt.Errorf("streaming: game audio source closed")
			}
			if err := stream.Send(ctx, transport.StreamMessage{Channel: transport.ChannelAudio, Payload: frame}); err != nil {
				return fmt.Errorf("streaming: send game audio: %w", err)
			}
		}
	}
}

// publishAudioDevice posts the default device id as a property, matching
// spec.md §4.6's game_audio/microphone device-id publication on loop
// start and end.
func publishAudioDevice(bus *eventbus.Bus, key, id string) {
	if id == "" {
		return
	}
	bus.Post(eventbus.Event{Kind: eventbus.OpenvrProperty, PropertyKey: key, PropertyValue: id})
}

func microphoneLoop(ctx context.Context, deps Deps, stream transport.StreamSocket) error {
	publishAudioDevice(deps.Bus, "microphone_device_id", deps.MicrophoneDeviceID)
	defer publishAudioDevice(deps.Bus, "microphone_device_id", deps.MicrophoneDeviceID)
	for {
		msg, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("streaming: receive microphone frame: %w", err)
		}
		if msg.Channel != transport.ChannelAudio {
			continue
		}
		select {
		case deps.MicrophoneFrames <- msg.Payload:
		case <-ctx.Done():
			return nil
		}
	}
}

func inputReceiveLoop(ctx context.Context, deps Deps, inputCh <-chan InputUpdate) error {
	var lastLeftFOV eventbus.FOV
	var lastIPD float32
	const epsilon = 1e-4
	first := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-inputCh:
			if !ok {
				return fmt.Errorf("streaming: input channel closed")
			}
			// spec.md §9 documents this as publishing only on eye-0 (left)
			// FOV or IPD change — eye-1 changes in isolation are missed in
			// the source this is grounded on, and that quirk is preserved
			// rather than silently normalized.
			ipdChanged := abs32(lastIPD-in.IPDMeters) > epsilon
			if first || ipdChanged || fovChanged(lastLeftFOV, in.LeftEyeFOV, epsilon) {
				deps.Bus.Post(eventbus.Event{Kind: eventbus.ViewsConfig, ViewFOVs: [2]eventbus.FOV{in.LeftEyeFOV, in.RightEyeFOV}})
				lastLeftFOV, lastIPD = in.LeftEyeFOV, in.IPDMeters
				first = false
			}

			deps.Bus.Post(eventbus.Event{Kind: eventbus.DevicePose, Pose: eventbus.Pose{PathID: ids.HeadID, Orientation: in.Head.Orientation, Position: in.Head.Position}})
			if deps.ControllersEnabled {
				if in.HasLeftHand {
					deps.Bus.Post(eventbus.Event{Kind: eventbus.DevicePose, Pose: eventbus.Pose{PathID: ids.LeftHandID, Orientation: in.LeftHand.Orientation, Position: in.LeftHand.Position}})
				}
				if in.HasRightHand {
					deps.Bus.Post(eventbus.Event{Kind: eventbus.DevicePose, Pose: eventbus.Pose{PathID: ids.RightHandID, Orientation: in.RightHand.Orientation, Position: in.RightHand.Position}})
				}
			}

			tracking := driver.TrackingInfo{
				FrameIndex:       in.FrameIndex,
				ClientTimeNs:     in.ClientTimeNs,
				Mounted:          in.Mounted,
				HeadPose:         in.Head,
				Buttons:          in.Buttons,
				Skeleton:         in.Skeleton,
				FingerConfidence: in.FingerConfidence,
			}
			if deps.ControllersEnabled {
				tracking.LeftHandPose = in.LeftHand
				tracking.RightHandPose = in.RightHand
			}
			deps.Driver.InputReceive(tracking)
		}
	}
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func fovChanged(a, b eventbus.FOV, eps float32) bool {
	return abs32(a.Left-b.Left) > eps || abs32(a.Right-b.Right) > eps || abs32(a.Top-b.Top) > eps || abs32(a.Bottom-b.Bottom) > eps
}

// playspaceSyncLoop handles the driver's blocking SetChaperone call on its
// own goroutine fed by a channel, per spec.md §4.6. Go multiplexes
// goroutines over OS threads, so a blocking call here does not starve the
// other streaming loops the way it would a cooperative-task runtime;
// runtime.LockOSThread is reserved for genuine thread-affinity needs (e.g.
// certain graphics contexts) and isn't one of them here.
func playspaceSyncLoop(ctx context.Context, deps Deps, playspaceCh <-chan PlayspaceSyncPacket) error {
	done := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				done <- nil
				return
			case p, ok := <-playspaceCh:
				if !ok {
					done <- fmt.Errorf("streaming: playspace channel closed")
					return
				}
				deps.Driver.SetChaperone(buildChaperone(p))
			}
		}
	}()
	return <-done
}

// buildChaperone builds the column-major-transposed 3x4 transform from a
// rotation quaternion and translation, matching the matrix construction in
// original_source/alvr/server/src/connection.rs's playspace sync handler.
func buildChaperone(p PlayspaceSyncPacket) driver.Chaperone {
	x, y, z, w := p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Rotation.W
	r := [9]float32{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}
	return driver.Chaperone{
		Transform: [12]float32{
			r[0], r[3], r[6], p.Translation.X,
			r[1], r[4], r[7], p.Translation.Y,
			r[2], r[5], r[8], p.Translation.Z,
		},
		Perimeter: p.Perimeter,
	}
}

func keepaliveLoop(ctx context.Context, deps Deps) error {
	t := time.NewTicker(deps.keepaliveInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := deps.Control.Send(ctx, transport.ControlPacket{Kind: transport.PacketKeepAlive}); err != nil {
				telemetry.KeepaliveFailuresTotal.Inc()
				if deps.Logger != nil {
					deps.Logger.WithField("client", deps.ClientAddr).Info("ClientDisconnected")
				}
				return errKeepaliveFailed
			}
		}
	}
}

// wireTimeSync is the client's TimeSync control packet, per spec.md §6.
type wireTimeSync struct {
	ClientTimeNs          uint64 `json:"client_time_ns"`
	Sequence              uint64 `json:"sequence"`
	PacketType            uint8  `json:"type"`
	AverageTotalLatencyNs uint64 `json:"average_total_latency_ns"`
}

// wireViewsConfig is the client's ViewsConfig control packet; FOV stays in
// degrees on this path, unlike the event-bus ViewsConfig publication from
// input_receive, per spec.md §4.6's control_loop row.
type wireViewsConfig struct {
	IPDMeters float32         `json:"ipd_m"`
	LeftFOV   driver.FOVDegrees `json:"left_fov"`
	RightFOV  driver.FOVDegrees `json:"right_fov"`
}

// wireBattery is the client's Battery control packet, per spec.md §6.
type wireBattery struct {
	Path    ids.PathID `json:"path"`
	Percent float32    `json:"percent"`
	Plugged bool       `json:"plugged"`
}

func controlLoop(ctx context.Context, deps Deps, playspaceCh chan<- PlayspaceSyncPacket) error {
	for {
		p, err := deps.Control.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("streaming: control receive: %w", err)
		}
		switch p.Kind {
		case transport.PacketPlayspaceSync:
			if deps.TrackingRefOnly {
				continue
			}
			var packet PlayspaceSyncPacket
			if err := json.Unmarshal(p.Payload, &packet); err != nil {
				continue
			}
			select {
			case playspaceCh <- packet:
			case <-ctx.Done():
				return nil
			}
		case transport.PacketRequestIdr:
			deps.Driver.RequestIDR()
		case transport.PacketTimeSync:
			var ts wireTimeSync
			if err := json.Unmarshal(p.Payload, &ts); err != nil {
				continue
			}
			// Echoed to the driver with sequence/type/averageTotalLatency
			// zeroed, per spec.md §4.6.
			deps.Driver.ReceiveTimeSync(driver.TimeSyncEcho{ClientTimeNs: ts.ClientTimeNs})
		case transport.PacketVideoErrorReport:
			deps.Driver.ReceiveVideoErrorReport()
		case transport.PacketViewsConfig:
			var vc wireViewsConfig
			if err := json.Unmarshal(p.Payload, &vc); err != nil {
				continue
			}
			deps.Driver.ReceiveViewsConfig(vc.IPDMeters, vc.LeftFOV, vc.RightFOV)
		case transport.PacketBattery:
			var b wireBattery
			if err := json.Unmarshal(p.Payload, &b); err != nil {
				continue
			}
			deps.Driver.ReceiveBattery(b.Path, b.Percent, b.Plugged)
		}
	}
}

// wireInput is the JSON wire shape of one INPUT channel message. FOV arrives
// in degrees (spec.md §3's "views_config (ipd_m, per-eye FOV in degrees)");
// everything else decodes straight into InputUpdate's shape.
type wireInput struct {
	IPDMeters       float32           `json:"ipd_m"`
	LeftEyeFOVDeg   driver.FOVDegrees `json:"left_eye_fov"`
	RightEyeFOVDeg  driver.FOVDegrees `json:"right_eye_fov"`
	Head            driver.Pose       `json:"head"`
	LeftHand        driver.Pose       `json:"left_hand"`
	RightHand       driver.Pose       `json:"right_hand"`
	HasLeftHand     bool              `json:"has_left_hand"`
	HasRightHand    bool              `json:"has_right_hand"`
	Buttons         map[ids.PathID]driver.ButtonState `json:"buttons"`
	Skeleton        [19]ids.Vec3      `json:"skeleton"`
	FingerConfidence [2]float32       `json:"finger_confidence"`
	FrameIndex      uint64            `json:"frame_index"`
	ClientTimeNs    uint64            `json:"client_time_ns"`
	Mounted         bool              `json:"mounted"`
}

// fovDegreesToRadians converts a client-reported FOV from degrees to the
// radians-with-left/bottom-negated convention the event bus publishes, per
// spec.md §3's invariant list and the scenario 5 seed test in §8.
func fovDegreesToRadians(d driver.FOVDegrees) eventbus.FOV {
	return eventbus.FOV{
		Left:   float32(-ids.DegreesToRadians(float64(d.Left))),
		Right:  float32(ids.DegreesToRadians(float64(d.Right))),
		Top:    float32(ids.DegreesToRadians(float64(d.Top))),
		Bottom: float32(-ids.DegreesToRadians(float64(d.Bottom))),
	}
}

func receiveLoop(ctx context.Context, deps Deps, stream transport.StreamSocket, inputCh chan<- InputUpdate) error {
	for {
		msg, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("streaming: stream receive: %w", err)
		}
		if msg.Channel != transport.ChannelInput {
			continue
		}
		var w wireInput
		if err := json.Unmarshal(msg.Payload, &w); err != nil {
			continue
		}
		in := InputUpdate{
			IPDMeters:        w.IPDMeters,
			LeftEyeFOV:       fovDegreesToRadians(w.LeftEyeFOVDeg),
			RightEyeFOV:      fovDegreesToRadians(w.RightEyeFOVDeg),
			Head:             w.Head,
			LeftHand:         w.LeftHand,
			RightHand:        w.RightHand,
			HasLeftHand:      w.HasLeftHand,
			HasRightHand:     w.HasRightHand,
			Buttons:          w.Buttons,
			Skeleton:         w.Skeleton,
			FingerConfidence: w.FingerConfidence,
			FrameIndex:       w.FrameIndex,
			ClientTimeNs:     w.ClientTimeNs,
			Mounted:          w.Mounted,
		}
		select {
		case inputCh <- in:
		case <-ctx.Done():
			return nil
		}
	}
}
