package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/fluxorio/fluxsink/pkg/format"
)

// event is one line of input:
//
//	{"time": "2011-01-02T13:14:15Z", "tag": "app.access", "record": {"a": 1}}
//
// time may also be epoch seconds, with an optional fraction. A missing time
// means now.
type event struct {
	Time   json.RawMessage `json:"time"`
	Tag    string          `json:"tag"`
	Record format.Fields   `json:"record"`
}

var errNoRecord = errors.New("event has no record object")

func parseEvent(line []byte, now func() time.Time) (format.Record, error) {
	var ev event
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return format.Record{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Record == nil {
		return format.Record{}, errNoRecord
	}
	t, err := parseTime(ev.Time, now)
	if err != nil {
		return format.Record{}, err
	}
	return format.Record{Time: t, Tag: ev.Tag, Fields: ev.Record}, nil
}

func parseTime(raw json.RawMessage, now func() time.Time) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return now(), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("time: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("time: %w", err)
		}
		return t, nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("time: %w", err)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))), nil
}
