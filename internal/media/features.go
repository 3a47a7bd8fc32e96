package media

// Feature flags the media-player operations a device supports. Device
// classes that share a proxy type differ only in their feature set.
type Feature uint32

const (
	FeaturePause Feature = 1 << iota
	FeaturePlay
	FeatureStop
	FeaturePreviousTrack
	FeatureNextTrack
	FeatureTurnOn
	FeatureTurnOff
	FeatureVolumeStep
	FeatureVolumeMute
	FeatureSelectSource
	FeaturePlayMedia
)

// Supports reports whether all of the given flags are present.
func (f Feature) Supports(flags Feature) bool {
	return f&flags == flags
}
