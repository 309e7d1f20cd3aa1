// Package config loads the YAML file describing a set of named backup
// sets: where to read a backup set's configuration from is the only job
// of this package — everything else (CLI parsing, store construction,
// scheduling) belongs to its callers.
//
// Grounded on original_source/backuppy/config.py's setup_config, which
// reads a `backups:` map out of a flat staticconf YAML document; this
// port replaces the runtime staticconf namespace registry with a single
// typed struct tree decoded by gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Options mirrors the envelope's compression/encryption toggles
// (spec §6.2), read per backup set instead of process-global.
type Options struct {
	UseCompression *bool `yaml:"use_compression"`
	UseEncryption  *bool `yaml:"use_encryption"`
}

// CompressionEnabled returns the configured value, defaulting to true.
func (o Options) CompressionEnabled() bool {
	return o.UseCompression == nil || *o.UseCompression
}

// EncryptionEnabled returns the configured value, defaulting to true.
func (o Options) EncryptionEnabled() bool {
	return o.UseEncryption == nil || *o.UseEncryption
}

// Protocol is the `protocol:` block of a backup set, covering all three
// supported backends; only the fields relevant to Type are read by the
// dispatcher in internal/store.
type Protocol struct {
	Type string `yaml:"type"`

	Location string `yaml:"location"`

	Bucket         string `yaml:"bucket"`
	AWSRegion      string `yaml:"aws_region"`
	AWSAccessKeyID string `yaml:"aws_access_key_id"`
	AWSSecretKey   string `yaml:"aws_secret_key"`
	StorageClass   string `yaml:"storage_class"`

	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Root     string `yaml:"root"`
}

// BackupSet is one entry of the top-level `backups:` map.
type BackupSet struct {
	Directories           []string `yaml:"directories"`
	Exclusions            []string `yaml:"exclusions"`
	Protocol              Protocol `yaml:"protocol"`
	Options               Options  `yaml:"options"`
	PrivateKeyFile        string   `yaml:"private_key_file"`
	PublicKeyFile         string   `yaml:"public_key_file"`
	MaxManifestVersions   int      `yaml:"max_manifest_versions"`
	DiscardDiffPercentage float64  `yaml:"discard_diff_percentage"`
	Schedule              string   `yaml:"schedule"`
	Seed                  *uint64  `yaml:"seed"`
}

// Config is the top-level document: a name -> BackupSet map plus
// whatever top-level knobs apply across all sets.
type Config struct {
	Backups map[string]BackupSet `yaml:"backups"`
}

// Load reads and parses path into a Config.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Get returns the named backup set, or an error if it isn't configured.
func (c *Config) Get(name string) (BackupSet, error) {
	bs, ok := c.Backups[name]
	if !ok {
		return BackupSet{}, fmt.Errorf("no backup set named %q in config", name)
	}
	return bs, nil
}

// CompileExclusions parses a backup set's raw exclusion strings into
// regexes. A pattern ending in the OS path separator only ever matches
// directories (file_walker tests it against "path/"); one ending in `$`
// matches only files whose path ends with the pattern, mirroring
// original_source/backuppy/util.py's compile_exclusions.
func CompileExclusions(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclusion pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
