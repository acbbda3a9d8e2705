package cinema

import "fmt"

// MediaState tracks one peer's media negotiation:
// idle -> offering -> active (outbound) or idle -> answering -> active
// (inbound), ending in closed or failed. Transitions are validated so
// event callbacks cannot drive a connection into an illegal state.
type MediaState int

const (
	MediaIdle MediaState = iota
	MediaOffering
	MediaAnswering
	MediaActive
	MediaClosed
	MediaFailed
)

func (s MediaState) String() string {
	switch s {
	case MediaIdle:
		return "idle"
	case MediaOffering:
		return "offering"
	case MediaAnswering:
		return "answering"
	case MediaActive:
		return "active"
	case MediaClosed:
		return "closed"
	case MediaFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are legal.
func (s MediaState) Terminal() bool {
	return s == MediaClosed || s == MediaFailed
}

var mediaTransitions = map[MediaState][]MediaState{
	MediaIdle:      {MediaOffering, MediaAnswering, MediaClosed, MediaFailed},
	MediaOffering:  {MediaActive, MediaClosed, MediaFailed},
	MediaAnswering: {MediaActive, MediaClosed, MediaFailed},
	MediaActive:    {MediaClosed, MediaFailed},
}

// transitionMedia validates a media state change. Same-state is a
// no-op, which keeps the event-callback paths idempotent.
func transitionMedia(from, to MediaState) (MediaState, error) {
	if from == to {
		return to, nil
	}
	for _, legal := range mediaTransitions[from] {
		if legal == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("illegal media state transition %s -> %s", from, to)
}

// DataState tracks the per-peer data channel.
type DataState int

const (
	DataPending DataState = iota
	DataOpen
	DataClosed
)

func (s DataState) String() string {
	switch s {
	case DataPending:
		return "pending"
	case DataOpen:
		return "open"
	case DataClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var dataTransitions = map[DataState][]DataState{
	DataPending: {DataOpen, DataClosed},
	DataOpen:    {DataClosed},
}

func transitionData(from, to DataState) (DataState, error) {
	if from == to {
		return to, nil
	}
	for _, legal := range dataTransitions[from] {
		if legal == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("illegal data state transition %s -> %s", from, to)
}
