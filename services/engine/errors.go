package engine

import "errors"

var (
	// ErrConfigInvalid is returned before any simulation work starts.
	ErrConfigInvalid = errors.New("invalid engine config")
	// ErrDataExhausted means no bar exists strictly after an entry time.
	ErrDataExhausted = errors.New("no bars after entry")
	// ErrNoAnchorBar means a day has no bar at its anchor time.
	ErrNoAnchorBar = errors.New("no anchor bar")
	// ErrUnorderedSeries is returned when bars are not in ascending time order.
	ErrUnorderedSeries = errors.New("bars are not time ordered")
	// ErrDuplicateEvent means an account already has a pending event.
	ErrDuplicateEvent = errors.New("account already has a pending event")
)
