// Package handshake implements the control-connection negotiation
// (spec.md §4.5): connects to a candidate client, exchanges headset info
// and a client config packet, selects a refresh rate, and reconciles the
// resolved OpenvrConfig against the persisted one.
package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"vrhostd/internal/audio"
	"vrhostd/internal/errs"
	"vrhostd/internal/logging"
	"vrhostd/internal/session"
	"vrhostd/internal/settings"
	"vrhostd/internal/telemetry"
	"vrhostd/internal/transport"
)

// HeadsetInfo is what the client reports about itself, per spec.md §3.
type HeadsetInfo struct {
	RecommendedEyeWidth  uint32
	RecommendedEyeHeight uint32
	AvailableRefreshRates []float64
	Reserved             string // free-form, carries a semver
}

// ClientConfigPacket is what the host sends back to finish the handshake,
// per spec.md §4.5 step 7.
type ClientConfigPacket struct {
	SessionJSON       json.RawMessage `json:"session_json"`
	DashboardURL      string          `json:"dashboard_url"`
	StreamWidth       uint32          `json:"stream_width"`
	StreamHeight      uint32          `json:"stream_height"`
	FPS               float64         `json:"fps"`
	AudioSampleRate   uint32          `json:"audio_sample_rate"`
	ServerVersion     string          `json:"server_version"`
	Reserved          string          `json:"reserved"`
}

// Result is what a successful handshake hands off to the streaming
// supervisor, per spec.md §4.5 step 11.
type Result struct {
	ClientIP      string
	ClientVersion string
	Control       transport.ControlSocket
}

// Deps bundles the collaborators handshake needs, so Negotiate stays a
// pure function of its inputs for testability.
type Deps struct {
	Dialer        transport.Dialer
	SettingsMgr   *settings.Manager
	SessionStore  *session.Store
	GameAudio     audio.Capturer // nil if game audio disabled
	Microphone    audio.Renderer // nil if microphone disabled
	Logger        logging.Logger

	ServerVersion      string
	WebPort            int
	PreferredRefreshHz float64
	VideoScaleMode     settings.VideoScaleMode
	VideoScale         float64
	// AbsoluteWidth/AbsoluteHeight are the operator-configured target
	// resolution used under settings.AbsoluteMode; unused under ScaleMode,
	// where the headset's own recommended eye size drives the result.
	AbsoluteWidth      uint32
	AbsoluteHeight     uint32
	ControllersEnabled bool
	ServerIP           string

	// StripFeaturesOnPlatform strips platform-incompatible features (e.g.
	// foveated rendering) from the session JSON snapshot sent to the
	// client, per spec.md §4.5 step 7.
	StripFeaturesOnPlatform func(sessionJSON json.RawMessage) json.RawMessage
}

// errRestartRequested is returned when a config-drift restart was
// requested; the lifecycle loop treats it as Fatal (park, external
// restart), per spec.md §4.3 and §7.
var errRestartRequested = fmt.Errorf("openvr config drift detected, restart requested")

// Negotiate runs the full handshake protocol against one candidate address
// and returns either a Result ready for the streaming supervisor, or a
// classified error.
func Negotiate(ctx context.Context, deps Deps, candidate string, retryPause time.Duration) (Result, error) {
	start := timeNow()
	control, err := dialWithRetry(ctx, deps.Dialer, candidate, retryPause)
	if err != nil {
		return Result{}, errs.WrapSoft(fmt.Errorf("handshake: dial control socket: %w", err))
	}

	info, _, err := receiveHeadsetInfo(ctx, control)
	if err != nil {
		control.Close()
		return Result{}, errs.WrapSoft(fmt.Errorf("handshake: receive headset info: %w", err))
	}

	videoParams := settings.ResolveVideoParams(deps.VideoScaleMode, info.RecommendedEyeWidth, info.RecommendedEyeHeight, deps.VideoScale, deps.AbsoluteWidth, deps.AbsoluteHeight)

	chosenRate, exact, ok := settings.SelectRefreshRate(info.AvailableRefreshRates, deps.PreferredRefreshHz)
	if !ok {
		control.Close()
		return Result{}, errs.WrapSoft(fmt.Errorf("handshake: client offered no refresh rates"))
	}
	if !exact {
		telemetry.RefreshRateMismatchesTotal.Inc()
		if deps.Logger != nil {
			deps.Logger.WithField("chosen_hz", chosenRate).Warn("preferred refresh rate not offered by client, using closest match")
		}
	}

	dashboardURL := fmt.Sprintf("http://%s:%d", deps.ServerIP, deps.WebPort)

	var audioSampleRate uint32
	if deps.GameAudio != nil {
		gameDev, err := deps.GameAudio.DefaultDevice()
		if err != nil {
			control.Close()
			return Result{}, errs.WrapSoft(fmt.Errorf("handshake: query game audio device: %w", err))
		}
		audioSampleRate = gameDev.SampleRate
		if deps.Microphone != nil {
			micDev, err := deps.Microphone.DefaultDevice()
			if err != nil {
				control.Close()
				return Result{}, errs.WrapSoft(fmt.Errorf("handshake: query microphone device: %w", err))
			}
			if micDev.ID == gameDev.ID {
				control.Close()
				// Scenario 3 from spec.md §8: same device for both game
				// output and virtual microphone is a hard error.
				return Result{}, errs.WrapHard(fmt.Errorf("handshake: game audio and microphone resolve to the same device %q", gameDev.ID))
			}
		}
	}

	sessionSnapshot := deps.SessionStore.Snapshot()
	sessionJSON, err := json.Marshal(sessionSnapshot)
	if err != nil {
		control.Close()
		return Result{}, errs.WrapHard(fmt.Errorf("handshake: marshal session snapshot: %w", err))
	}
	if deps.StripFeaturesOnPlatform != nil {
		sessionJSON = deps.StripFeaturesOnPlatform(sessionJSON)
	}

	packet := ClientConfigPacket{
		SessionJSON:     sessionJSON,
		DashboardURL:    dashboardURL,
		StreamWidth:     videoParams.StreamWidth,
		StreamHeight:    videoParams.StreamHeight,
		FPS:             chosenRate,
		AudioSampleRate: audioSampleRate,
		ServerVersion:   deps.ServerVersion,
		Reserved:        "",
	}
	packetBody, err := json.Marshal(packet)
	if err != nil {
		control.Close()
		return Result{}, errs.WrapHard(fmt.Errorf("handshake: marshal client config packet: %w", err))
	}
	if err := control.Send(ctx, transport.ControlPacket{Kind: transport.PacketStartStream, Payload: packetBody}); err != nil {
		control.Close()
		return Result{}, errs.WrapSoft(fmt.Errorf("handshake: send client config packet: %w", err))
	}

	newCfg := buildOpenvrConfig(videoParams, chosenRate, deps)
	if deps.SettingsMgr.Reconcile(newCfg) {
		if err := deps.SessionStore.SaveOpenvrConfig(newCfg); err != nil && deps.Logger != nil {
			deps.Logger.WithField("error", err).Error("failed to persist drifted openvr config")
		}
		if err := control.Send(ctx, transport.ControlPacket{Kind: transport.PacketRestarting}); err != nil && deps.Logger != nil {
			deps.Logger.WithField("error", err).Warn("failed to send Restarting packet")
		}
		control.Close()
		// Per spec.md §4.3: the handshake task parks forever so the
		// surrounding supervisor restarts the process; the lifecycle loop
		// classifies this as Fatal and does not retry.
		<-ctx.Done()
		return Result{}, errs.WrapFatal(errRestartRequested)
	}

	telemetry.HandshakeDurationSeconds.Observe(timeNow().Sub(start).Seconds())

	clientIP := candidate
	if host, _, err := net.SplitHostPort(candidate); err == nil {
		clientIP = host
	}
	return Result{
		ClientIP:      clientIP,
		ClientVersion: info.Reserved,
		Control:       control,
	}, nil
}

// ManualIPCandidates returns the union of manual_ips across persisted
// clients — the candidate set used when no pre-trusted ClientIdentity is
// available, per spec.md §4.5.
func ManualIPCandidates(store *session.Store) []string {
	return store.ManualIPs()
}

// dialWithRetry opens the control socket with a bounded retry: sleep
// retryPause between attempts, no overall timeout, cancellable via ctx —
// matches spec.md §4.5 step 1 exactly.
func dialWithRetry(ctx context.Context, dialer transport.Dialer, addr string, retryPause time.Duration) (transport.ControlSocket, error) {
	for {
		conn, err := dialer.DialControl(ctx, addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryPause):
		}
	}
}

func receiveHeadsetInfo(ctx context.Context, control transport.ControlSocket) (HeadsetInfo, string, error) {
	p, err := control.Recv(ctx)
	if err != nil {
		return HeadsetInfo{}, "", err
	}
	var body struct {
		Headset            HeadsetInfo `json:"headset"`
		ServerIPAsSeenByClient string  `json:"server_ip_as_seen_by_client"`
	}
	if err := json.Unmarshal(p.Payload, &body); err != nil {
		return HeadsetInfo{}, "", fmt.Errorf("unmarshal headset info: %w", err)
	}
	return body.Headset, body.ServerIPAsSeenByClient, nil
}

func buildOpenvrConfig(vp settings.ResolvedVideoParams, refreshHz float64, deps Deps) settings.OpenvrConfig {
	cfg := settings.OpenvrConfig{
		StreamWidth:        vp.StreamWidth,
		StreamHeight:       vp.StreamHeight,
		RenderTargetWidth:  vp.RenderTargetWidth,
		RenderTargetHeight: vp.RenderTargetHeight,
		RefreshRateHz:      refreshHz,
		ControllersEnabled: deps.ControllersEnabled,
	}
	if deps.ControllersEnabled {
		cfg.LeftController = settings.ControllerConfig{
			Model:           settings.ControllerOculusTouch,
			InteractionPath: "/interaction_profiles/oculus/touch_controller",
		}
		// Open question (spec.md §9): the original source inserts two
		// ControllerType entries per hand, the second overwriting the
		// first; decision recorded in DESIGN.md — we keep a single,
		// unambiguous entry per hand here rather than reproduce the
		// ambiguity.
		cfg.RightController = cfg.LeftController
	}
	return cfg
}

// timeNow exists so tests can see a monotonic call without invoking
// time.Now() directly in more than one place.
func timeNow() time.Time { return time.Now() }
