// Package timeslice maps record timestamps to bucket keys.
//
// A bucket key is the record time, converted to the configured zone's wall
// clock, rendered through a strftime pattern. Two records whose keys are equal
// strings land in the same chunk and the same output file.
package timeslice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone names resolve without a system tz database

	"github.com/lestrrat-go/strftime"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// DefaultPattern buckets by calendar day.
const DefaultPattern = "%Y%m%d"

var offsetRe = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})?$`)

// ParseZone resolves a zone specification.
//
//	""  "local"  "localtime"   -> time.Local
//	"UTC" "utc" "Z"            -> time.UTC
//	"+08:00" "-0330" "+09"     -> fixed offset
//	"Asia/Taipei"              -> tz database
//
// Unknown names return a CONFIG error.
func ParseZone(spec string) (*time.Location, error) {
	s := strings.TrimSpace(spec)
	switch strings.ToLower(s) {
	case "", "local", "localtime":
		return time.Local, nil
	case "utc", "z", "gmt":
		return time.UTC, nil
	}

	if m := offsetRe.FindStringSubmatch(s); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes := 0
		if m[3] != "" {
			minutes, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || minutes > 59 {
			return nil, core.ConfigError("timezone", "offset %q out of range", s)
		}
		secs := hours*3600 + minutes*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(s, secs), nil
	}

	loc, err := time.LoadLocation(s)
	if err != nil {
		return nil, core.WrapConfig("timezone", fmt.Errorf("unknown zone %q: %w", s, err))
	}
	return loc, nil
}

// sampleTime is rendered once to vet a pattern's output.
var sampleTime = time.Date(2011, 1, 2, 13, 14, 15, 0, time.UTC)

// Bucketer derives bucket keys. It holds only immutable configuration and is
// safe for concurrent use.
type Bucketer struct {
	loc     *time.Location
	pattern string
	f       *strftime.Strftime
}

// New compiles pattern for zone. An empty pattern means DefaultPattern.
func New(zone, pattern string) (*Bucketer, error) {
	loc, err := ParseZone(zone)
	if err != nil {
		return nil, err
	}
	return NewWithLocation(loc, pattern)
}

// NewWithLocation is New for an already resolved location.
func NewWithLocation(loc *time.Location, pattern string) (*Bucketer, error) {
	if loc == nil {
		loc = time.Local
	}
	if pattern == "" {
		pattern = DefaultPattern
	}
	f, err := strftime.New(pattern)
	if err != nil {
		return nil, core.WrapConfig("time_slice_format", err)
	}
	if strings.ContainsAny(pattern, `/\`) {
		return nil, core.ConfigError("time_slice_format", "pattern %q must not contain path separators", pattern)
	}
	// Verbs such as %D and %x render separators of their own.
	sample := f.FormatString(sampleTime)
	if sample == "" || strings.ContainsAny(sample, `/\`) {
		return nil, core.ConfigError("time_slice_format", "pattern %q renders %q, not a usable file name part", pattern, sample)
	}
	return &Bucketer{loc: loc, pattern: pattern, f: f}, nil
}

// Key renders t in the bucketer's zone through its pattern.
func (b *Bucketer) Key(t time.Time) string {
	return b.f.FormatString(t.In(b.loc))
}

// Location returns the zone keys are rendered in.
func (b *Bucketer) Location() *time.Location { return b.loc }

// Pattern returns the strftime pattern.
func (b *Bucketer) Pattern() string { return b.pattern }

// Key is a one-shot convenience around New(zone, pattern).Key(t).
func Key(t time.Time, zone, pattern string) (string, error) {
	b, err := New(zone, pattern)
	if err != nil {
		return "", err
	}
	return b.Key(t), nil
}
