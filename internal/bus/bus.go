// Package bus carries the typed request/response protocol between the
// detector/view side and the aggregation store. A single dispatcher goroutine
// owns the store; callers suspend on a reply channel instead of sharing
// memory with it.
package bus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"watchtrackd/internal/models"
	"watchtrackd/internal/store"
)

// Request types understood by the dispatcher.
const (
	TypeGetVideo     = "get_video"
	TypeRecordWatch  = "record_watch"
	TypeGetAllVideos = "get_all_videos"
	TypeExportJSON   = "export_json"
)

// Outcome distinguishes a response that actually arrived from one that is
// unknown (timeout, storage failure, dispatcher stopped). Unknown never means
// "confirmed empty".
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeDelivered
)

type Meta struct {
	Title string `json:"title,omitempty"`
}

type Request struct {
	Type    string `json:"type"`
	VideoID string `json:"videoId,omitempty"`
	Meta    Meta   `json:"meta,omitempty"`
}

// RecordResponse answers record_watch. WatchCount reflects exactly the
// just-appended event.
type RecordResponse struct {
	Success    bool `json:"success"`
	WatchCount int  `json:"watchCount"`
}

// ExportResponse answers export_json.
type ExportResponse struct {
	JSON string `json:"json"`
}

type envelope struct {
	req   Request
	reply chan json.RawMessage
}

// Dispatcher serializes all store access through one goroutine.
type Dispatcher struct {
	store    *store.Store
	log      *logrus.Logger
	requests chan envelope
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(st *store.Store, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		log:      log,
		requests: make(chan envelope, 64),
		done:     make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case env := <-d.requests:
			env.reply <- d.handle(env.req)
		}
	}
}

// handle returns the marshaled response, or nil when the operation failed.
// Failures are logged here and surface to the caller as a null response.
func (d *Dispatcher) handle(req Request) json.RawMessage {
	switch req.Type {
	case TypeGetVideo:
		record, err := d.store.GetRecord(req.VideoID)
		if err != nil {
			d.log.WithError(err).WithField("videoId", req.VideoID).Error("get_video failed")
			return nil
		}
		return marshal(record) // nil record marshals to null

	case TypeRecordWatch:
		count, err := d.store.RecordWatch(req.VideoID, req.Meta.Title)
		if err != nil {
			d.log.WithError(err).WithField("videoId", req.VideoID).Error("record_watch failed")
			return nil
		}
		return marshal(RecordResponse{Success: true, WatchCount: count})

	case TypeGetAllVideos:
		records, err := d.store.ListRecords()
		if err != nil {
			d.log.WithError(err).Error("get_all_videos failed")
			return nil
		}
		if records == nil {
			records = []models.WatchRecord{}
		}
		return marshal(records)

	case TypeExportJSON:
		data, err := d.store.ExportJSON()
		if err != nil {
			d.log.WithError(err).Error("export_json failed")
			return nil
		}
		return marshal(ExportResponse{JSON: data})

	default:
		d.log.WithField("type", req.Type).Warn("unknown request type")
		return nil
	}
}

func marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// Client sends requests to a dispatcher with a bounded wait. The original
// design waited forever on a lost response; the timeout turns that into an
// explicit unknown outcome.
type Client struct {
	dispatcher *Dispatcher
	timeout    time.Duration
	log        *logrus.Logger
}

func NewClient(d *Dispatcher, timeout time.Duration, log *logrus.Logger) *Client {
	return &Client{dispatcher: d, timeout: timeout, log: log}
}

// Send submits one request and waits for its response. An OutcomeUnknown
// return means the caller learned nothing: the request may or may not have
// taken effect.
func (c *Client) Send(req Request) (json.RawMessage, Outcome) {
	env := envelope{req: req, reply: make(chan json.RawMessage, 1)}
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()

	select {
	case c.dispatcher.requests <- env:
	case <-c.dispatcher.done:
		return nil, OutcomeUnknown
	case <-deadline.C:
		return nil, OutcomeUnknown
	}

	select {
	case raw := <-env.reply:
		if raw == nil {
			return nil, OutcomeUnknown
		}
		return raw, OutcomeDelivered
	case <-deadline.C:
		return nil, OutcomeUnknown
	}
}

// RecordWatch is the detector-facing port: best-effort, no retry. A lost
// record is dropped, never re-sent.
func (c *Client) RecordWatch(videoID, title string) (int, Outcome) {
	raw, outcome := c.Send(Request{Type: TypeRecordWatch, VideoID: videoID, Meta: Meta{Title: title}})
	if outcome != OutcomeDelivered {
		return 0, OutcomeUnknown
	}
	var resp RecordResponse
	if err := json.Unmarshal(raw, &resp); err != nil || !resp.Success {
		return 0, OutcomeUnknown
	}
	return resp.WatchCount, OutcomeDelivered
}

// GetVideo fetches one record. A nil record with OutcomeDelivered means the
// video was confirmed never watched; OutcomeUnknown means no answer.
func (c *Client) GetVideo(videoID string) (*models.WatchRecord, Outcome) {
	raw, outcome := c.Send(Request{Type: TypeGetVideo, VideoID: videoID})
	if outcome != OutcomeDelivered {
		return nil, OutcomeUnknown
	}
	var record *models.WatchRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, OutcomeUnknown
	}
	return record, OutcomeDelivered
}
