// Package models defines the data structures shared by the listing client, scanner, notifier and storage.
package models

import (
	"encoding/json"
	"math"
	"time"
)

// Entry is one live game server instance returned by the listing API.
type Entry struct {
	ID         string  `json:"id"`
	Ping       int     `json:"ping"`
	Playing    int     `json:"playing"`
	MaxPlayers int     `json:"maxPlayers"`
	FPS        float64 `json:"fps,omitempty"`

	noPing bool
}

// UnmarshalJSON decodes a listing element. Numbers may be fractional: ping is rounded up
// so a ceiling comparison on the integer gives the same answer as on the raw value,
// occupancy is rounded to the nearest integer. A missing or null ping is flagged, not zeroed.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string   `json:"id"`
		Ping       *float64 `json:"ping"`
		Playing    float64  `json:"playing"`
		MaxPlayers float64  `json:"maxPlayers"`
		FPS        float64  `json:"fps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Entry{
		ID:         raw.ID,
		Playing:    int(math.Round(raw.Playing)),
		MaxPlayers: int(math.Round(raw.MaxPlayers)),
		FPS:        raw.FPS,
	}

	if raw.Ping == nil {
		e.noPing = true
	} else {
		e.Ping = int(math.Ceil(*raw.Ping))
	}

	return nil
}

// PingMissing reports whether the listing omitted the ping of this server.
func (e Entry) PingMissing() bool {
	return e.noPing
}

// Listing is the payload of the public servers endpoint.
// Data is a pointer so a missing field can be told apart from an empty list.
type Listing struct {
	Data           *[]Entry `json:"data"`
	NextPageCursor *string  `json:"nextPageCursor"`
}

// ScanResult reports the outcome of a single scan cycle.
type ScanResult struct {
	ID         string        `json:"id"`
	Fetched    int           `json:"fetched"`
	Accepted   int           `json:"accepted"`
	Filtered   int           `json:"filtered"`
	Duplicates int           `json:"duplicates"`
	Duration   time.Duration `json:"duration"`

	// Busy is set when another cycle was already running and this trigger was dropped.
	Busy bool `json:"busy,omitempty"`

	// Failed is set when the cycle was aborted before processing entries.
	Failed bool `json:"failed,omitempty"`
}

// Detection is a history record of one notified server.
type Detection struct {
	DetectedAt time.Time `json:"detected_at"`
	JobID      string    `json:"job_id"`
	PlaceID    string    `json:"place_id"`
	Ping       int       `json:"ping"`
	Playing    int       `json:"playing"`
	MaxPlayers int       `json:"max_players"`
	Number     int64     `json:"number"`
}
