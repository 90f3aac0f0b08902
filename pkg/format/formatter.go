package format

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// Formatter renders a Record as the bytes appended to a chunk.
type Formatter interface {
	Format(rec Record) ([]byte, error)
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(Record) ([]byte, error)

func (f FormatterFunc) Format(rec Record) ([]byte, error) { return f(rec) }

// Options configure the built-in formatters.
type Options struct {
	// Location renders record times. Nil means UTC.
	Location *time.Location
	// TimeFormat is a Go layout. Empty means RFC3339.
	TimeFormat string

	// out_file
	OutputTime bool
	OutputTag  bool
	Delimiter  string // "\t" (default), "SPACE", "COMMA" or a literal

	// json and ltsv
	IncludeTimeKey bool
	TimeKey        string // default "time"
	TimeAsEpoch    bool

	// single_value
	MessageKey string // default "message"
	AddNewline bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Location:   time.UTC,
		TimeFormat: time.RFC3339,
		OutputTime: true,
		OutputTag:  true,
		Delimiter:  "\t",
		TimeKey:    "time",
		MessageKey: "message",
		AddNewline: true,
	}
}

// Names of the built-in formatters.
const (
	OutFile     = "out_file"
	JSON        = "json"
	LTSV        = "ltsv"
	SingleValue = "single_value"
)

// New returns the formatter registered under name.
func New(name string, opts Options) (Formatter, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(name) {
	case "", OutFile:
		return &outFile{opts: opts, delim: delimiter(opts.Delimiter)}, nil
	case JSON:
		return &jsonFormatter{opts: opts}, nil
	case LTSV:
		return &ltsvFormatter{opts: opts}, nil
	case SingleValue:
		return &singleValue{opts: opts}, nil
	default:
		return nil, core.ConfigError("format", "unknown format %q", name)
	}
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.TimeFormat == "" {
		o.TimeFormat = time.RFC3339
	}
	if o.Delimiter == "" {
		o.Delimiter = "\t"
	}
	if o.TimeKey == "" {
		o.TimeKey = "time"
	}
	if o.MessageKey == "" {
		o.MessageKey = "message"
	}
	return o
}

func (o Options) renderTime(t time.Time) string {
	return t.In(o.Location).Format(o.TimeFormat)
}

func (o Options) timeValue(t time.Time) interface{} {
	if o.TimeAsEpoch {
		return t.Unix()
	}
	return o.renderTime(t)
}

func delimiter(d string) string {
	switch strings.ToUpper(d) {
	case "SPACE":
		return " "
	case "COMMA":
		return ","
	case "TAB", "":
		return "\t"
	default:
		return d
	}
}

// outFile writes "<time>\t<tag>\t<json>\n".
type outFile struct {
	opts  Options
	delim string
}

func (f *outFile) Format(rec Record) ([]byte, error) {
	body, err := rec.Fields.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if f.opts.OutputTime {
		buf.WriteString(f.opts.renderTime(rec.Time))
		buf.WriteString(f.delim)
	}
	if f.opts.OutputTag {
		buf.WriteString(rec.Tag)
		buf.WriteString(f.delim)
	}
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

type jsonFormatter struct{ opts Options }

func (f *jsonFormatter) Format(rec Record) ([]byte, error) {
	fields := rec.Fields
	if f.opts.IncludeTimeKey {
		fields = append(append(Fields(nil), fields...), Field{Key: f.opts.TimeKey, Value: f.opts.timeValue(rec.Time)})
	}
	body, err := fields.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return append(body, '\n'), nil
}

type ltsvFormatter struct{ opts Options }

func (f *ltsvFormatter) Format(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	write := func(k string, v interface{}) error {
		if buf.Len() > 0 {
			buf.WriteByte('\t')
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		s, err := scalar(v)
		if err != nil {
			return err
		}
		buf.WriteString(s)
		return nil
	}
	for _, fld := range rec.Fields {
		if err := write(fld.Key, fld.Value); err != nil {
			return nil, err
		}
	}
	if f.opts.IncludeTimeKey {
		if err := write(f.opts.TimeKey, f.opts.timeValue(rec.Time)); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

type singleValue struct{ opts Options }

func (f *singleValue) Format(rec Record) ([]byte, error) {
	v, _ := rec.Fields.Get(f.opts.MessageKey)
	s, err := scalar(v)
	if err != nil {
		return nil, err
	}
	out := []byte(s)
	if f.opts.AddNewline {
		out = append(out, '\n')
	}
	return out, nil
}

// scalar renders strings and numbers bare and everything else as JSON.
func scalar(v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		b, err := core.JSONEncode(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
