package models

// Signal types delivered by the page-observation glue.
const (
	SignalPosition = "position"
	SignalEnded    = "ended"
	SignalNavigate = "navigate"
)

// Signal is a single playback or lifecycle observation reported by the
// browser-side glue for one tab.
type Signal struct {
	TabID       string  `json:"tabId"`
	Type        string  `json:"type"` // position|ended|navigate
	TSUTC       int64   `json:"ts_utc"`
	URL         string  `json:"url"`
	Title       *string `json:"title"` // nullable
	PlayerID    string  `json:"playerId,omitempty"`
	CurrentTime float64 `json:"currentTime,omitempty"` // seconds
	Duration    float64 `json:"duration,omitempty"`    // seconds, <=0 means unknown/live
}

type SignalBatch struct {
	Signals []Signal `json:"signals"`
}

// WatchRecord is the durable aggregate for one video. WatchCount and
// LastSeenAt are derived from Events: WatchCount == len(Events) and
// LastSeenAt is the final entry whenever Events is non-empty.
type WatchRecord struct {
	VideoID    string   `json:"videoId"`
	Title      string   `json:"title,omitempty"`
	WatchCount int      `json:"watchCount"`
	Events     []string `json:"events"` // ISO-8601 UTC, append order
	LastSeenAt string   `json:"lastSeenAt,omitempty"`
}
