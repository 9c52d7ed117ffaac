// Package detector decides, from noisy playback signals, the instant a watch
// should be counted: at most once per video per page-visit session.
package detector

import (
	"math"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"watchtrackd/internal/bus"
	"watchtrackd/internal/models"
)

// DefaultThresholdPercent matches the original extension default.
const DefaultThresholdPercent = 70.0

// Recorder is the detector's outbound port to the aggregation store.
// Delivery is best-effort: an unknown outcome means the event is lost.
type Recorder interface {
	RecordWatch(videoID, title string) (int, bus.Outcome)
}

type Config struct {
	ThresholdPercent float64
}

// Ack reports a recorded watch back to the view layer.
type Ack struct {
	VideoID    string `json:"videoId"`
	WatchCount int    `json:"watchCount"`
}

// session is the ephemeral per-visit state for one tab. It is replaced
// wholesale on every navigation; marked enforces at-most-one record per video
// per visit even when threshold and ended both fire.
type session struct {
	id     string
	url    string
	marked map[string]bool
}

func newSession(rawURL string) *session {
	return &session{
		id:     uuid.NewString(),
		url:    rawURL,
		marked: make(map[string]bool),
	}
}

// tab holds one tab's state machine. Each tab has its own lock so a slow
// store on one tab never stalls signal handling for the others. The attach
// registry lives here, not in the session: the page reuses the same player
// element across navigations, so attachment state must outlive the visit.
type tab struct {
	mu       sync.Mutex
	sess     *session
	attached map[string]bool // per element instance
}

// Detector runs one session state machine per tab.
type Detector struct {
	cfg Config
	rec Recorder
	log *logrus.Logger

	mu   sync.Mutex
	tabs map[string]*tab
}

func New(cfg Config, rec Recorder, log *logrus.Logger) *Detector {
	if cfg.ThresholdPercent <= 0 {
		cfg.ThresholdPercent = DefaultThresholdPercent
	}
	return &Detector{
		cfg:  cfg,
		rec:  rec,
		log:  log,
		tabs: make(map[string]*tab),
	}
}

// VideoID resolves the item identifier from a page URL, or "" when none.
func VideoID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

// tab returns the state for one tab, creating it on first sight. The global
// lock covers only the map lookup.
func (d *Detector) tab(tabID string) *tab {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tabs[tabID]
	if !ok {
		t = &tab{attached: make(map[string]bool)}
		d.tabs[tabID] = t
	}
	return t
}

// Handle feeds one signal through the tab's state machine. It returns a
// non-nil ack only when a watch was recorded and confirmed by the store.
func (d *Detector) Handle(sig models.Signal) *Ack {
	t := d.tab(sig.TabID)
	t.mu.Lock()

	if sig.Type == models.SignalNavigate {
		d.resetSession(t, sig.TabID, sig.URL)
		t.mu.Unlock()
		return nil
	}

	sess := t.sess
	if sess == nil {
		sess = d.resetSession(t, sig.TabID, sig.URL)
	}
	// A playback signal carrying a different URL than the session's is an
	// unobserved navigation: start a fresh session before processing.
	if sig.URL != "" && sig.URL != sess.url {
		sess = d.resetSession(t, sig.TabID, sig.URL)
	}

	videoID := VideoID(sess.url)
	if videoID == "" {
		t.mu.Unlock()
		return nil // no identifier resolvable, stay idle
	}

	triggered := false
	switch sig.Type {
	case models.SignalPosition:
		// Unknown/live duration never satisfies the threshold; only ended
		// can trigger for such items.
		if finitePositive(sig.Duration) {
			percent := sig.CurrentTime / sig.Duration * 100
			triggered = percent >= d.cfg.ThresholdPercent
		}
	case models.SignalEnded:
		triggered = true
	default:
		d.log.WithField("type", sig.Type).Debug("ignoring unknown signal type")
	}

	// The mark is set before sending, under the tab lock; the lock is
	// released for the store round trip so other tabs keep flowing. If
	// delivery fails the event is lost for good, which is the accepted
	// best-effort tradeoff of a local convenience feature.
	if !triggered || sess.marked[videoID] {
		t.mu.Unlock()
		return nil
	}
	sess.marked[videoID] = true
	t.mu.Unlock()

	return d.record(sess, videoID, title(sig))
}

// NavigationFunc adapts one tab's state machine to a location-change
// callback, e.g. from a watcher.Watcher polling an embedded player's URL.
func (d *Detector) NavigationFunc(tabID string) func(rawURL string) {
	return func(rawURL string) {
		d.Handle(models.Signal{TabID: tabID, Type: models.SignalNavigate, URL: rawURL})
	}
}

// AttachPlayer registers a player element instance with a tab and reports
// whether this is its first attachment. The glue must only subscribe to a
// player when this returns true. Attachment is tracked per element instance
// and survives navigations: the page keeps the same player mounted across
// them, and re-subscribing it would double-fire every event. A remounted
// player is a new instance and carries a new id.
func (d *Detector) AttachPlayer(tabID, playerID string) bool {
	t := d.tab(tabID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.attached[playerID] {
		return false
	}
	t.attached[playerID] = true
	return true
}

// resetSession is called with the tab lock held.
func (d *Detector) resetSession(t *tab, tabID, rawURL string) *session {
	sess := newSession(rawURL)
	t.sess = sess
	d.log.WithFields(logrus.Fields{
		"tabId":   tabID,
		"session": sess.id,
		"videoId": VideoID(rawURL),
	}).Debug("new session")
	return sess
}

// record forwards one marked watch event to the store.
func (d *Detector) record(sess *session, videoID, title string) *Ack {
	count, outcome := d.rec.RecordWatch(videoID, title)
	if outcome != bus.OutcomeDelivered {
		d.log.WithFields(logrus.Fields{
			"videoId": videoID,
			"session": sess.id,
		}).Warn("watch event lost, store did not confirm")
		return nil
	}

	d.log.WithFields(logrus.Fields{
		"videoId":    videoID,
		"session":    sess.id,
		"watchCount": count,
	}).Info("watch recorded")
	return &Ack{VideoID: videoID, WatchCount: count}
}

func finitePositive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

func title(sig models.Signal) string {
	if sig.Title != nil {
		return *sig.Title
	}
	return ""
}
