// Command vrhostd runs the VR streaming host daemon: it discovers a
// trusted headset on the LAN, negotiates a stream configuration with it,
// and bridges video/audio/haptics/input between the client and a native
// compositor driver for the lifetime of the connection.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vrhostd/internal/api"
	"vrhostd/internal/audio"
	"vrhostd/internal/capi"
	"vrhostd/internal/config"
	"vrhostd/internal/discovery"
	"vrhostd/internal/driver"
	"vrhostd/internal/errs"
	"vrhostd/internal/eventbus"
	"vrhostd/internal/handshake"
	"vrhostd/internal/lifecycle"
	"vrhostd/internal/logging"
	"vrhostd/internal/platform"
	"vrhostd/internal/session"
	"vrhostd/internal/settings"
	"vrhostd/internal/streaming"
	"vrhostd/internal/transport"
)

func main() {
	_ = godotenv.Load() // optional; missing .env is not an error

	logger := logging.NewLoggerWithService("vrhostd")

	cfg, err := config.Load()
	if err != nil {
		logger.WithField("error", err).Fatal("failed to load configuration")
	}

	sessionStore, err := session.Open(cfg.SessionPath)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to open session store")
	}

	bus := eventbus.New(cfg.EventBusCapacity)
	settingsMgr := settings.NewManager(logger)
	if doc := sessionStore.Snapshot(); doc.HasOpenvrConfig {
		settingsMgr.LoadPersisted(doc.OpenvrConfig)
	}

	// No real compositor driver or audio device is implemented in this
	// module (spec.md Non-goals); these fakes let the runtime run
	// end-to-end for development and testing.
	drv := driver.NewFakeDriver()
	// Left as nil interfaces (not nil typed pointers) when disabled, so
	// handshake's "deps.GameAudio != nil" gating works correctly — a nil
	// *FakeCapturer assigned to the audio.Capturer interface would compare
	// non-nil and panic on first use.
	var gameAudio audio.Capturer
	var microphone audio.Renderer
	if cfg.GameAudioEnabled {
		gameAudio = &audio.FakeCapturer{Device_: audio.Device{ID: "default-speakers", SampleRate: 48000}}
	}
	if cfg.MicrophoneEnabled {
		microphone = &audio.FakeRenderer{Device_: audio.Device{ID: "default-virtual-mic", SampleRate: 48000}}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	caps := platform.DetectCapabilities()
	runtime := capi.Initialize(drv, bus, logger, capi.SessionInfo{
		HeadsetSerial:         "vrhostd-0001",
		LeftControllerSerial:  "vrhostd-ctrl-l",
		RightControllerSerial: "vrhostd-ctrl-r",
		ControllerType:        "vrhostd_touch",
		DriverVersion:         "1.0.0",
		OnDesktop:             caps.IsOnDesktop,
		DirectModeSendsVsync:  caps.DriverDirectModeSendsVsyncEvents,
		SupportsAudioDeviceID: caps.SupportsAudioDeviceIDProperties,
	})

	discoveryListener := discovery.New(cfg.DiscoveryPort, sessionStore, cfg.AutoTrustClients, logger)
	dialer := transport.WebsocketDialer{}

	streamingActive := make(chan bool, 1)
	streamingActive <- false

	lifecycleDeps := lifecycle.Deps{
		Discovery:    discoveryListener,
		SessionStore: sessionStore,
		Logger:       logger,
		ControlPort:  cfg.ControlPort,

		Negotiate: func(ctx context.Context, addr string) (handshake.Result, error) {
			return handshake.Negotiate(ctx, handshake.Deps{
				Dialer:             dialer,
				SettingsMgr:        settingsMgr,
				SessionStore:       sessionStore,
				GameAudio:          gameAudio,
				Microphone:         microphone,
				Logger:             logger,
				ServerVersion:      "1.0.0",
				WebPort:            cfg.WebPort,
				PreferredRefreshHz: cfg.PreferredRefreshHz,
				VideoScaleMode:     cfg.VideoScaleMode,
				VideoScale:         cfg.VideoScale,
				AbsoluteWidth:      cfg.AbsoluteWidth,
				AbsoluteHeight:     cfg.AbsoluteHeight,
				ControllersEnabled: cfg.ControllersEnabled,
				ServerIP:           localIP(),
			}, addr, cfg.ControlConnectRetryPause)
		},

		RunStreaming: func(ctx context.Context, res handshake.Result) error {
			drainBool(streamingActive)
			streamingActive <- true
			defer func() {
				drainBool(streamingActive)
				streamingActive <- false
			}()

			streamDeps := streaming.Deps{
				Driver:             drv,
				Bus:                bus,
				Control:            res.Control,
				Dialer:             dialer,
				Logger:             logger,
				ClientAddr:         res.ClientIP,
				ControllersEnabled: cfg.ControllersEnabled,
				TrackingRefOnly:    cfg.TrackingRefOnly,
				GameAudioEnabled:   cfg.GameAudioEnabled,
				MicrophoneEnabled:  cfg.MicrophoneEnabled,
				OnConnectScript:    cfg.OnConnectScript,
				OnDisconnectScript: cfg.OnDisconnectScript,
				VideoFrames:        make(chan streaming.VideoFrame),
				TimeSyncs:          make(chan []byte),
				HapticsOut:         runtime.HapticsChannel(),
				StreamSetupTimeout: cfg.StreamSetupTimeout,
				KeepaliveInterval:  cfg.KeepaliveInterval,
			}

			// Wire the audio device's own capture/render loop into the
			// channels the streaming supervisor's game_audio/microphone
			// loops drain/feed, per spec.md §4.6.
			if cfg.GameAudioEnabled && gameAudio != nil {
				if dev, err := gameAudio.DefaultDevice(); err == nil {
					streamDeps.GameAudioDeviceID = dev.ID
				}
				frames := make(chan []byte, 4)
				streamDeps.GameAudioFrames = frames
				go func() {
					if err := gameAudio.Capture(ctx, frames); err != nil && ctx.Err() == nil && logger != nil {
						logger.WithField("error", err).Warn("game audio capture loop ended")
					}
				}()
			}
			if cfg.MicrophoneEnabled && microphone != nil {
				if dev, err := microphone.DefaultDevice(); err == nil {
					streamDeps.MicrophoneDeviceID = dev.ID
				}
				frames := make(chan []byte, 4)
				streamDeps.MicrophoneFrames = frames
				go func() {
					if err := microphone.Render(ctx, frames); err != nil && ctx.Err() == nil && logger != nil {
						logger.WithField("error", err).Warn("microphone render loop ended")
					}
				}()
			}

			return streaming.Run(ctx, streamDeps)
		},

		CleanupPause:            cfg.CleanupPause,
		RetryConnectMinInterval: cfg.RetryConnectMinInterval,
	}

	go func() {
		if err := lifecycle.Run(ctx, lifecycleDeps); err != nil {
			logger.WithField("error", err).WithField("class", errs.ClassOf(err).String()).Error("lifecycle loop exited")
			runtime.Shutdown()
			stop()
		}
	}()

	health := &api.HealthChecker{
		Bus:          bus,
		SessionStore: sessionStore,
		IsStreaming: func() bool {
			select {
			case v := <-streamingActive:
				streamingActive <- v
				return v
			default:
				return false
			}
		},
	}
	router := api.NewRouter(health, sessionStore, logger)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Error("http server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	bus.Post(eventbus.Event{Kind: eventbus.Shutdown})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func drainBool(ch chan bool) {
	select {
	case <-ch:
	default:
	}
}

// localIP returns the first non-loopback IPv4 address found on the host, or
// "0.0.0.0" if none is found — best-effort, used only to build the
// dashboard URL handed to the client during handshake.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "0.0.0.0"
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "0.0.0.0"
}
