package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fluxorio/fluxsink/pkg/core"
	"github.com/fluxorio/fluxsink/pkg/fileout"
	"github.com/fluxorio/fluxsink/pkg/format"
)

func fixedNow() time.Time { return time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC) }

func TestParseEvent(t *testing.T) {
	want := time.Date(2011, 1, 2, 13, 14, 15, 0, time.UTC)
	tests := []struct {
		name string
		line string
		time time.Time
	}{
		{"rfc3339", `{"time":"2011-01-02T13:14:15Z","tag":"test","record":{"a":1}}`, want},
		{"offset", `{"time":"2011-01-02T21:14:15+08:00","tag":"test","record":{"a":1}}`, want},
		{"epoch", `{"time":1293974055,"tag":"test","record":{"a":1}}`, want},
		{"epoch fraction", `{"time":1293974055.5,"tag":"test","record":{"a":1}}`, want.Add(500 * time.Millisecond)},
		{"missing time", `{"tag":"test","record":{"a":1}}`, fixedNow()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := parseEvent([]byte(tt.line), fixedNow)
			require.NoError(t, err)
			assert.True(t, tt.time.Equal(rec.Time), "got %s", rec.Time)
			assert.Equal(t, "test", rec.Tag)
			v, ok := rec.Fields.Get("a")
			require.True(t, ok)
			assert.Equal(t, "1", v.(interface{ String() string }).String())
		})
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	for _, line := range []string{
		`not json`,
		`{"tag":"test"}`,
		`{"time":"yesterday","record":{}}`,
		`{"time":true,"record":{}}`,
		`{"record":[1,2]}`,
	} {
		_, err := parseEvent([]byte(line), fixedNow)
		assert.Error(t, err, line)
	}
}

func TestParseEvent_KeepsFieldOrder(t *testing.T) {
	rec, err := parseEvent([]byte(`{"record":{"z":1,"a":{"y":2,"b":3}}}`), fixedNow)
	require.NoError(t, err)
	body, err := rec.Fields.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":{"y":2,"b":3}}`, string(body))
	_, isFields := rec.Fields[1].Value.(format.Fields)
	assert.True(t, isFields)
}

func TestRun_WritesBuckets(t *testing.T) {
	dir := t.TempDir()
	in := strings.Join([]string{
		`{"time":"2011-01-02T13:14:15Z","tag":"test","record":{"a":1}}`,
		`garbage`,
		``,
		`{"time":"2011-01-02T13:14:15Z","tag":"test","record":{"a":2}}`,
		`{"time":"2011-01-03T00:00:00Z","tag":"test","record":{"a":3}}`,
	}, "\n")

	cfgPath := filepath.Join(dir, "sink.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("path: "+filepath.Join(dir, "out")+"\nutc: true\ncompress: gz\n"), 0o644))

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(strings.NewReader(in), &stdout, &stderr)
	cmd.SetArgs([]string{"--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()), stderr.String())

	want := []string{
		filepath.Join(dir, "out.20110102_0.log.gz"),
		filepath.Join(dir, "out.20110103_0.log.gz"),
	}
	assert.Equal(t, strings.Join(want, "\n")+"\n", stdout.String())
	for _, p := range want {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
	assert.Contains(t, stderr.String(), "event dropped")
}

func TestConsume_StopsAtClosedGate(t *testing.T) {
	dir := t.TempDir()
	cfg := fileout.DefaultConfig(filepath.Join(dir, "out"))
	cfg.UTC = true
	out, err := fileout.New(cfg, fileout.WithLogger(core.NewNopLogger()))
	require.NoError(t, err)

	pr, pw := io.Pipe()
	gate := &inputGate{}
	done := make(chan error, 1)
	go func() { done <- consume(pr, out, core.NewNopLogger(), gate) }()

	_, err = io.WriteString(pw, `{"time":"2011-01-02T13:14:15Z","tag":"test","record":{"a":1}}`+"\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return out.Stats().PendingKeys == 1 }, 5*time.Second, 5*time.Millisecond)

	gate.close()
	require.NoError(t, out.Stop(context.Background()))

	// The reader wakes on the next line and returns without emitting it.
	_, err = io.WriteString(pw, `{"time":"2011-01-02T13:14:15Z","tag":"test","record":{"a":2}}`+"\n")
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.NoError(t, pw.Close())

	data, err := os.ReadFile(filepath.Join(dir, "out.20110102_0.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"a":1}`)
	assert.NotContains(t, string(data), `{"a":2}`)
	assert.Equal(t, 0, out.Stats().PendingKeys)
}

func TestRun_ConfigError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(strings.NewReader(""), &stdout, &stderr)
	cmd.SetArgs([]string{"--path", filepath.Join(t.TempDir(), "out"), "--log-level", "chatty"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, stderr.String(), "log_level")
}

func TestInitConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(strings.NewReader(""), &stdout, &stderr)
	cmd.SetArgs([]string{"init-config", "--path", "/tmp/sink/out"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &doc))
	assert.Equal(t, "/tmp/sink/out", doc["path"])
	assert.Equal(t, "%Y%m%d", doc["time_slice_format"])
	assert.Equal(t, "1m0s", doc["flush_interval"])
}
