// Package visibility decides whether a dot separated symbol path may be
// exposed through breakpoint captures. Operators describe the policy in a
// small YAML file holding glob pattern lists; a path is visible when it is
// not blocklisted and matches the allowlist.
package visibility

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the conventional policy file name, looked up
// relative to the process working directory.
const DefaultConfigFile = "data-visibility.yaml"

// ErrParse indicates a policy file that is not valid YAML or does not
// have the expected shape.
var ErrParse = errors.New("invalid visibility configuration")

// Visibility verdict reasons, suitable for display.
const (
	ReasonUnknownType    = "could not determine type"
	ReasonBlocklisted    = "blocked by config"
	ReasonNotAllowlisted = "not allowed by config"
	ReasonVisible        = "visible"
)

// Config is the parsed policy file. The YAML keys keep the names the
// format was introduced with.
type Config struct {
	Blocklist []string `yaml:"blacklist"`
	Allowlist []string `yaml:"whitelist"`
}

// Read parses a policy from YAML. Unknown keys and non-list values are
// rejected. An absent allowlist defaults to allowing everything.
func Read(r io.Reader) (Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if cfg.Allowlist == nil {
		cfg.Allowlist = []string{"*"}
	}
	return cfg, nil
}

// Open reads the policy file at the given path, or the default location
// when the path is empty. A missing file is not an error; the returned
// bool reports whether a file was found.
func Open(file string) (Config, bool, error) {
	if file == "" {
		file = DefaultConfigFile
	}
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{Allowlist: []string{"*"}}, false, nil
		}
		return Config{}, false, err
	}
	defer f.Close()

	cfg, err := Read(f)
	return cfg, err == nil, err
}

// Policy answers visibility queries for symbol paths.
type Policy struct {
	blocklist []string
	allowlist []string
}

// NewPolicy builds a policy from a parsed configuration.
func NewPolicy(cfg Config) *Policy {
	return &Policy{blocklist: cfg.Blocklist, allowlist: cfg.Allowlist}
}

// IsVisible reports whether data at the given dot separated path may be
// shown, with a display reason. The blocklist wins over the allowlist.
func (p *Policy) IsVisible(symbol string) (bool, string) {
	if symbol == "" {
		return false, ReasonUnknownType
	}
	if matches(symbol, p.blocklist) {
		return false, ReasonBlocklisted
	}
	if !matches(symbol, p.allowlist) {
		return false, ReasonNotAllowlisted
	}
	return true, ReasonVisible
}

// matches reports whether any pattern in the list covers the path. The
// paths are dot separated, so glob wildcards span name components the way
// shell fnmatch would.
func matches(symbol string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, symbol); err == nil && ok {
			return true
		}
	}
	return false
}
