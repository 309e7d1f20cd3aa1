package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
backups:
  home:
    directories:
      - /home/user
    exclusions:
      - '\.git/$'
      - '\.o$'
    protocol:
      type: local
      location: /mnt/backup
    private_key_file: /etc/backuppy/home.key
    public_key_file: /etc/backuppy/home.pub
    options:
      use_compression: true
      use_encryption: false
    max_manifest_versions: 10
    discard_diff_percentage: 0.6
    schedule: "0 3 * * *"
    seed: 42
  bare:
    directories:
      - /srv/www
    protocol:
      type: s3
      bucket: my-bucket
      aws_region: us-east-1
`

func writeTempConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backuppy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	return path
}

func TestLoad_ParsesBackupSets(t *testing.T) {
	cfg, err := Load(writeTempConfig(t))
	require.NoError(t, err)
	require.Len(t, cfg.Backups, 2)

	home, err := cfg.Get("home")
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/user"}, home.Directories)
	assert.Equal(t, "local", home.Protocol.Type)
	assert.Equal(t, "/mnt/backup", home.Protocol.Location)
	assert.Equal(t, 10, home.MaxManifestVersions)
	assert.InDelta(t, 0.6, home.DiscardDiffPercentage, 1e-9)
	assert.True(t, home.Options.CompressionEnabled())
	assert.False(t, home.Options.EncryptionEnabled())
	require.NotNil(t, home.Seed)
	assert.Equal(t, uint64(42), *home.Seed)
}

func TestLoad_DefaultsOptionsToEnabled(t *testing.T) {
	cfg, err := Load(writeTempConfig(t))
	require.NoError(t, err)

	bare, err := cfg.Get("bare")
	require.NoError(t, err)
	assert.True(t, bare.Options.CompressionEnabled())
	assert.True(t, bare.Options.EncryptionEnabled())
	assert.Equal(t, "s3", bare.Protocol.Type)
	assert.Equal(t, "my-bucket", bare.Protocol.Bucket)
}

func TestGet_UnknownNameErrors(t *testing.T) {
	cfg, err := Load(writeTempConfig(t))
	require.NoError(t, err)
	_, err = cfg.Get("nonexistent")
	assert.Error(t, err)
}

func TestCompileExclusions(t *testing.T) {
	patterns, err := CompileExclusions([]string{`\.git/$`, `\.o$`})
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.True(t, patterns[0].MatchString("/home/user/repo/.git/"))
	assert.False(t, patterns[0].MatchString("/home/user/repo/.git/config"))
	assert.True(t, patterns[1].MatchString("/home/user/build/main.o"))
}

func TestCompileExclusions_InvalidPattern(t *testing.T) {
	_, err := CompileExclusions([]string{"("})
	assert.Error(t, err)
}
