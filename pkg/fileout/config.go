package fileout

import (
	"os"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/fluxorio/fluxsink/pkg/compress"
	"github.com/fluxorio/fluxsink/pkg/config"
	"github.com/fluxorio/fluxsink/pkg/core"
	"github.com/fluxorio/fluxsink/pkg/format"
	"github.com/fluxorio/fluxsink/pkg/timeslice"
)

// Config is the sink configuration as read from YAML, JSON or the environment.
type Config struct {
	// Path is the output template: "/var/log/app/out", "/var/log/app/out.*.txt"
	// or "/var/log/app/out.${bucket}.txt".
	Path     string `yaml:"path" json:"path" validate:"required"`
	Compress string `yaml:"compress,omitempty" json:"compress,omitempty" validate:"omitempty,oneof=none text gz gzip zstd zst"`

	// Timezone is "local", "UTC", a zone name or a fixed offset like "-03:30".
	// UTC wins when set.
	Timezone        string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	UTC             bool   `yaml:"utc,omitempty" json:"utc,omitempty"`
	TimeSliceFormat string `yaml:"time_slice_format" json:"time_slice_format"`

	Append                 bool   `yaml:"append,omitempty" json:"append,omitempty"`
	StrictCompressedAppend bool   `yaml:"strict_compressed_append,omitempty" json:"strict_compressed_append,omitempty"`
	SymlinkPath            string `yaml:"symlink_path,omitempty" json:"symlink_path,omitempty"`

	// Octal permission strings such as "0750". Empty keeps the umask default.
	DirPermission  string `yaml:"dir_permission,omitempty" json:"dir_permission,omitempty" validate:"filemode"`
	FilePermission string `yaml:"file_permission,omitempty" json:"file_permission,omitempty" validate:"filemode"`

	Format string `yaml:"format" json:"format"`
	// TimeFormat is a Go time layout for rendered record times.
	TimeFormat     string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
	OutputTime     *bool  `yaml:"output_time,omitempty" json:"output_time,omitempty"`
	OutputTag      *bool  `yaml:"output_tag,omitempty" json:"output_tag,omitempty"`
	Delimiter      string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	IncludeTimeKey bool   `yaml:"include_time_key,omitempty" json:"include_time_key,omitempty"`
	TimeKey        string `yaml:"time_key,omitempty" json:"time_key,omitempty"`
	TimeAsEpoch    bool   `yaml:"time_as_epoch,omitempty" json:"time_as_epoch,omitempty"`
	MessageKey     string `yaml:"message_key,omitempty" json:"message_key,omitempty"`
	AddNewline     *bool  `yaml:"add_newline,omitempty" json:"add_newline,omitempty"`

	// FlushInterval is how often Start flushes every pending chunk.
	FlushInterval config.Duration `yaml:"flush_interval" json:"flush_interval"`
	// ChunkLimitSize triggers an early flush of one chunk. Zero disables it.
	ChunkLimitSize datasize.ByteSize `yaml:"chunk_limit_size,omitempty" json:"chunk_limit_size,omitempty"`
	FlushWorkers   int               `yaml:"flush_workers" json:"flush_workers" validate:"gte=0,lte=64"`

	// JournalDir enables the staging journal.
	JournalDir string `yaml:"journal_dir,omitempty" json:"journal_dir,omitempty"`
	// JournalFsync acknowledges each journal append only after an fsync.
	JournalFsync bool `yaml:"journal_fsync,omitempty" json:"journal_fsync,omitempty"`
}

// DefaultConfig returns a Config with every optional field at its default.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		TimeSliceFormat: timeslice.DefaultPattern,
		Format:          "out_file",
		FlushInterval:   config.Duration(60 * time.Second),
		FlushWorkers:    2,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Path)
	if c.TimeSliceFormat == "" {
		c.TimeSliceFormat = def.TimeSliceFormat
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.FlushWorkers <= 0 {
		c.FlushWorkers = def.FlushWorkers
	}
	return c
}

// validate runs the struct tags and the cross-field rules.
func (c *Config) validate() error {
	return config.Validate(c,
		config.ValidatorFunc(config.ValidateStruct),
		config.RequiredFields("TimeSliceFormat", "Format"),
		config.OneOfValidator("Format", format.OutFile, format.JSON, format.LTSV, format.SingleValue),
		config.ValidatorFunc(strictCompressedAppend),
	)
}

// strictCompressedAppend rejects append with a compressing codec when
// strict_compressed_append is set.
func strictCompressedAppend(v interface{}) error {
	c := v.(*Config)
	if !c.Append || !c.StrictCompressedAppend {
		return nil
	}
	codec, err := compress.Parse(c.Compress)
	if err != nil {
		return err
	}
	if compress.Compressed(codec) {
		return core.ConfigError("append", "append with %s compression writes concatenated frames; disable strict_compressed_append to allow it", codec.Name())
	}
	return nil
}

// zone returns the effective timezone spec.
func (c Config) zone() string {
	if c.UTC {
		return "UTC"
	}
	return c.Timezone
}

func parseMode(field, s string) (os.FileMode, error) {
	if s == "" {
		return 0, nil
	}
	m, err := config.ParseFileMode(s)
	if err != nil {
		return 0, core.WrapConfig(field, err)
	}
	return os.FileMode(m), nil
}
