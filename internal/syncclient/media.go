package syncclient

type MediaKind int

const (
	MediaPlay MediaKind = iota
	MediaPause
	MediaSeek
)

func (k MediaKind) String() string {
	switch k {
	case MediaPlay:
		return "play"
	case MediaPause:
		return "pause"
	default:
		return "seek"
	}
}

// MediaEvent is a callback from the player.
type MediaEvent struct {
	Kind     MediaKind
	Position float64
}

// Origin tags a media event as real user intent or as a side effect of
// applying remote state.
type Origin int

const (
	OriginUser Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "user"
}
