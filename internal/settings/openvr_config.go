// Package settings implements the Settings Snapshot & Diff component: it
// resolves a live session into an OpenvrConfig and detects drift against
// the persisted value, triggering a coordinated restart on mismatch.
package settings

// ControllerModel enumerates the supported controller emulation profiles.
type ControllerModel int

const (
	ControllerDisabled ControllerModel = iota
	ControllerOculusTouch
	ControllerIndex
	ControllerViveWand
)

// CodecKind enumerates the supported video codecs.
type CodecKind int

const (
	CodecH264 CodecKind = iota
	CodecHEVC
	CodecAV1
)

// FoveationParams carries the variable-rate-shading parameters published to
// the driver.
type FoveationParams struct {
	Enabled         bool
	CenterSizeX     float32
	CenterSizeY     float32
	CenterShiftX    float32
	CenterShiftY    float32
	EdgeRatioX      float32
	EdgeRatioY      float32
}

// AdaptiveBitrateParams carries the congestion-controlled bitrate
// parameters published to the driver.
type AdaptiveBitrateParams struct {
	Enabled        bool
	BitrateMbps    uint32
	MaxBitrateMbps uint32
	MinBitrateMbps uint32
}

// ControllerConfig describes one emulated controller (left or right hand).
type ControllerConfig struct {
	Model           ControllerModel
	SerialNumber    string
	PoseOffsetX     float32
	PoseOffsetY     float32
	PoseOffsetZ     float32
	InteractionPath string
}

// TrackingOffsets carries the head/eye tracking offset corrections.
type TrackingOffsets struct {
	PositionX, PositionY, PositionZ float32
}

// ColorCorrection carries the display color-correction parameters.
type ColorCorrection struct {
	Brightness, Contrast, Saturation, Gamma float32
}

// OpenvrConfig is the full enumerated record the native driver needs at
// load time. It is rebuilt from the live session on every handshake and
// compared against the persisted value (see Manager.Reconcile); any
// divergence forces a restart before streams open.
type OpenvrConfig struct {
	HeadsetSerial string

	StreamWidth, StreamHeight         uint32
	RenderTargetWidth, RenderTargetHeight uint32
	RefreshRateHz                     float64

	Codec       CodecKind
	Foveation   FoveationParams
	AdaptiveBR  AdaptiveBitrateParams
	FECEnabled  bool

	ControllersEnabled bool
	LeftController      ControllerConfig
	RightController     ControllerConfig

	ColorCorrection ColorCorrection
	Tracking        TrackingOffsets
}

// Equal reports whether two configs are bit-equal for every field that
// matters for drift detection. Using a struct equality comparison directly
// (rather than a hash) keeps this precise for floats that round-trip
// exactly through JSON, matching the "bit-equal" language of spec.md §4.3.
func (c OpenvrConfig) Equal(other OpenvrConfig) bool {
	return c == other
}

// align32 rounds val up to the next multiple of 32, matching
// original_source/alvr/server/src/connection.rs's align32 exactly.
func align32(val uint32) uint32 {
	return (val + 31) / 32 * 32
}

// VideoScaleMode selects how eye resolution is derived from the headset's
// recommended size.
type VideoScaleMode int

const (
	ScaleMode VideoScaleMode = iota
	AbsoluteMode
)

// ResolvedVideoParams holds the per-handshake derived stream and
// render-target eye resolutions.
type ResolvedVideoParams struct {
	StreamWidth, StreamHeight             uint32
	RenderTargetWidth, RenderTargetHeight uint32
}

// ResolveVideoParams computes eye width/height under either Scale or
// Absolute mode, per spec.md §3 ResolvedVideoParams: under Scale mode,
// `align32(base * scale)`; under Absolute mode, `width/2, height`.
func ResolveVideoParams(mode VideoScaleMode, recommendedWidth, recommendedHeight uint32, scale float64, absoluteWidth, absoluteHeight uint32) ResolvedVideoParams {
	var streamW, streamH uint32
	switch mode {
	case AbsoluteMode:
		streamW = absoluteWidth / 2
		streamH = absoluteHeight
	default:
		streamW = align32(uint32(float64(recommendedWidth) * scale))
		streamH = align32(uint32(float64(recommendedHeight) * scale))
	}
	return ResolvedVideoParams{
		StreamWidth:       streamW,
		StreamHeight:      streamH,
		RenderTargetWidth: align32(recommendedWidth),
		RenderTargetHeight: align32(recommendedHeight),
	}
}

// SelectRefreshRate picks the element of offered closest to preferred.
// Ties are broken by first occurrence (strict `<` replace), matching
// connection.rs's `best=0, min_diff=f32::MAX` loop. ok is false when
// offered is empty.
func SelectRefreshRate(offered []float64, preferred float64) (chosen float64, exactMatch bool, ok bool) {
	if len(offered) == 0 {
		return 0, false, false
	}
	minDiff := float64(1<<62) // stand-in for +inf, matches the "best=0, min_diff=+inf" idiom
	best := 0.0
	for _, r := range offered {
		diff := r - preferred
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			best = r
		}
	}
	return best, minDiff == 0, true
}
