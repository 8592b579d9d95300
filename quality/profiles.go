package quality

// StreamProfile describes the video capture shape selected for a tier.
type StreamProfile struct {
	Width              int
	Height             int
	CompressionQuality int // JPEG quality factor, 0-100
	TargetBitrateKbps  int
}

// profileTable is the static tier to profile mapping. Values follow the
// bandwidth each tier can realistically sustain for a relayed video stream.
var profileTable = map[Tier]StreamProfile{
	TierExcellent: {Width: 640, Height: 480, CompressionQuality: 80, TargetBitrateKbps: 1200},
	TierGood:      {Width: 480, Height: 360, CompressionQuality: 70, TargetBitrateKbps: 600},
	TierFair:      {Width: 320, Height: 240, CompressionQuality: 50, TargetBitrateKbps: 300},
	TierPoor:      {Width: 240, Height: 180, CompressionQuality: 30, TargetBitrateKbps: 150},
}

// ProfileForTier returns the stream profile for the given tier. Unknown
// tiers map to the poor profile.
func ProfileForTier(tier Tier) StreamProfile {
	if profile, ok := profileTable[tier]; ok {
		return profile
	}
	return profileTable[TierPoor]
}
