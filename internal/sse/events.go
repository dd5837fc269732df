// Package sse fans scanner events out to connected live-reload clients over
// Server-Sent Events or WebSocket.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/listenupapp/livereload/internal/domain"
)

// FrameKind is the event name on the wire.
type FrameKind string

const (
	FrameConnect    FrameKind = "connect"
	FramePing       FrameKind = "ping"
	FrameChange     FrameKind = "assets_change"
	FrameDelete     FrameKind = "assets_delete"
	FrameDisconnect FrameKind = "disconnect"
)

// Frame is one message to a client. ID is "<short session>,<watermark>"
// where the watermark is the scan time in epoch seconds.
type Frame struct {
	ID   string    `json:"id"`
	Kind FrameKind `json:"event"`
	Data any       `json:"data"`
}

// ConnectData is the payload of the connect frame.
type ConnectData struct {
	Msg          string  `json:"msg"`
	SubscriberID string  `json:"subscriber_id"`
	Session      string  `json:"session"`
	Since        float64 `json:"since"`
	Files        int     `json:"files"`
}

// AssetData is the payload of assets_change and assets_delete frames.
type AssetData struct {
	Msg       string          `json:"msg"`
	AssetType domain.Category `json:"asset_type"`
	OldTime   float64         `json:"old_time"`
	NewTime   float64         `json:"new_time"`
	Info      domain.Entry    `json:"info"`
}

// PingData is the payload of keep-alive frames.
type PingData struct {
	Msg             string  `json:"msg"`
	Passes          uint64  `json:"passes"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

// DisconnectData is the payload of the disconnect frame.
type DisconnectData struct {
	Msg string `json:"msg"`
}

func frameID(short string, at time.Time) string {
	return short + "," + strconv.FormatFloat(domain.UnixSeconds(at), 'f', 6, 64)
}

// frameFromEvent converts a scanner event into a wire frame.
func frameFromEvent(short string, ev domain.Event) (Frame, bool) {
	switch ev.Kind {
	case domain.EventChanged:
		return Frame{
			ID:   frameID(short, ev.ScannedAt),
			Kind: FrameChange,
			Data: AssetData{
				Msg:       "file updated",
				AssetType: ev.Category,
				OldTime:   domain.UnixSeconds(ev.OldMTime),
				NewTime:   domain.UnixSeconds(ev.NewMTime),
				Info:      ev.Entry,
			},
		}, true
	case domain.EventDeleted:
		return Frame{
			ID:   frameID(short, ev.ScannedAt),
			Kind: FrameDelete,
			Data: AssetData{
				Msg:       "file deleted",
				AssetType: ev.Category,
				OldTime:   domain.UnixSeconds(ev.OldMTime),
				NewTime:   domain.UnixSeconds(ev.NewMTime),
				Info:      ev.Entry,
			},
		}, true
	case domain.EventPing:
		return Frame{
			ID:   frameID(short, ev.ScannedAt),
			Kind: FramePing,
			Data: PingData{
				Msg:             fmt.Sprintf("keep-alive ping after %d passes, scanning every %s", ev.Passes, ev.Interval),
				Passes:          ev.Passes,
				IntervalSeconds: ev.Interval.Seconds(),
			},
		}, true
	}
	return Frame{}, false
}

// catchUpFrame announces an entry modified after the client's watermark.
func catchUpFrame(short string, since time.Time, e domain.Entry, at time.Time) Frame {
	return Frame{
		ID:   frameID(short, at),
		Kind: FrameChange,
		Data: AssetData{
			Msg:       "file updated since page load",
			AssetType: e.Category,
			OldTime:   domain.UnixSeconds(since),
			NewTime:   domain.UnixSeconds(e.MTime),
			Info:      e,
		},
	}
}

// EncodeSSE renders the frame in text/event-stream format.
func (f Frame) EncodeSSE() ([]byte, error) {
	data, err := json.Marshal(f.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal frame data: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + len(f.ID) + 32)
	fmt.Fprintf(&buf, "id: %s\nevent: %s\ndata: %s\n\n", f.ID, f.Kind, data)
	return buf.Bytes(), nil
}
