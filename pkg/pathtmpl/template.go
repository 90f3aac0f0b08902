// Package pathtmpl turns a configured output path into concrete file paths
// for a bucket key.
//
// Layout produced:
//
//	{dir}/{prefix}{key}_{index}{suffix}{ext}   non-append
//	{dir}/{prefix}{key}{suffix}{ext}           append
//
// where ext is the compression suffix (".gz", ".zst" or "").
package pathtmpl

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fluxorio/fluxsink/pkg/core"
)

const (
	// Wildcard stands in for the bucket key: "out.*.txt".
	Wildcard = "*"
	// Token is the explicit bucket placeholder: "out.${bucket}.txt".
	Token = "${bucket}"
	// DefaultSuffix is used when the path has no placeholder.
	DefaultSuffix = ".log"
)

// Template is a parsed output path.
type Template struct {
	Dir    string
	Prefix string
	Suffix string
}

// Parse validates and splits path. Exactly one bucket position is allowed:
// a trailing implicit one ("out" -> "out.<key>.log"), a single "*", or a
// single "${bucket}". The placeholder must be in the file name.
func Parse(path string) (Template, error) {
	if strings.TrimSpace(path) == "" {
		return Template{}, core.ConfigError("path", "path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Template{}, core.WrapConfig("path", err)
	}
	dir, name := filepath.Split(abs)
	dir = filepath.Clean(dir)

	if strings.Contains(dir, Wildcard) || strings.Contains(dir, Token) {
		return Template{}, core.ConfigError("path", "bucket placeholder must be in the file name: %q", path)
	}
	if name == "" || strings.HasSuffix(path, string(filepath.Separator)) {
		return Template{}, core.ConfigError("path", "path %q has no file name", path)
	}

	wildcards := strings.Count(name, Wildcard)
	tokens := strings.Count(name, Token)
	switch {
	case wildcards+tokens > 1:
		return Template{}, core.ConfigError("path", "path %q has more than one bucket placeholder", path)
	case wildcards == 1:
		i := strings.Index(name, Wildcard)
		return Template{Dir: dir, Prefix: name[:i], Suffix: name[i+len(Wildcard):]}, nil
	case tokens == 1:
		i := strings.Index(name, Token)
		return Template{Dir: dir, Prefix: name[:i], Suffix: name[i+len(Token):]}, nil
	default:
		return Template{Dir: dir, Prefix: name + ".", Suffix: DefaultSuffix}, nil
	}
}

// Base is the append-mode file name for key, without compression extension.
func (t Template) Base(key string) string {
	return t.Prefix + key + t.Suffix
}

// Indexed is the non-append file name for key at index.
func (t Template) Indexed(key string, index int) string {
	return t.Prefix + key + "_" + strconv.Itoa(index) + t.Suffix
}
