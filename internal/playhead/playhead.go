// Package playhead maps a stored reference point of a media timeline to the
// position at an arbitrary wall-clock instant.
package playhead

import "time"

// Anchor is the last authoritative observation of a timeline: the media
// position at WallTime (milliseconds since epoch) and whether it was advancing.
type Anchor struct {
	Position float64
	WallTime int64
	Playing  bool
}

// Compute returns the position of a at now (milliseconds since epoch).
// Paused anchors never move. Instants before the anchor return the anchor
// position so the result never runs backwards past the recorded action.
func Compute(a Anchor, now int64) float64 {
	if !a.Playing || now <= a.WallTime {
		return a.Position
	}
	return a.Position + float64(now-a.WallTime)/1000
}

// At is Compute for a time.Time.
func At(a Anchor, now time.Time) float64 {
	return Compute(a, now.UnixMilli())
}

// Clamp bounds position to [0, duration]. A non-positive duration means the
// duration is unknown and only the lower bound applies.
func Clamp(position, duration float64) float64 {
	if position < 0 {
		return 0
	}
	if duration > 0 && position > duration {
		return duration
	}
	return position
}
