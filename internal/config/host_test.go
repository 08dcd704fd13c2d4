package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/afdcore/afd/internal/config/obscure"
	"github.com/afdcore/afd/internal/ssa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadHostsAndConvert(t *testing.T) {
	pw := obscure.MustObscure("hunter2")
	path := writeTempFile(t, `
hosts:
  - alias: host01
    real_hostnames: ["a.example.com", "b.example.com"]
    protocols: ["ftp", "sftp"]
    options: ["passive_ftp", "keep_alive"]
    user: bob
    password: `+pw+`
    port: 21
    allowed_transfers: 3
`)
	hosts, err := LoadHosts(path)
	require.NoError(t, err)
	require.Len(t, hosts, 1)

	hs, err := hosts[0].ToHostStatus()
	require.NoError(t, err)
	assert.Equal(t, "host01", hs.Alias)
	assert.Equal(t, "hunter2", hs.Password)
	assert.True(t, hs.Protocols&ssa.ProtoFTP != 0)
	assert.True(t, hs.Protocols&ssa.ProtoSFTP != 0)
	assert.True(t, hs.Options&ssa.OptPassiveFTP != 0)
	assert.Equal(t, 3, hs.AllowedTransfers)
}

func TestToHostStatusRejectsUnknownProtocol(t *testing.T) {
	hc := HostConfig{Alias: "host01", Protocols: []string{"carrier-pigeon"}}
	_, err := hc.ToHostStatus()
	assert.Error(t, err)
}

func TestToHostStatusRequiresAlias(t *testing.T) {
	hc := HostConfig{}
	_, err := hc.ToHostStatus()
	assert.Error(t, err)
}

func TestLoadDirsAndConvert(t *testing.T) {
	path := writeTempFile(t, `
directories:
  - alias: dir01
    url: https://example.com/incoming/
    check_interval_seconds: 60
    options: ["dupcheck", "remove"]
`)
	dirs, err := LoadDirs(path)
	require.NoError(t, err)
	require.Len(t, dirs, 1)

	ds, err := dirs[0].ToDirStatus()
	require.NoError(t, err)
	assert.Equal(t, "dir01", ds.Alias)
	assert.Equal(t, 60e9, float64(ds.CheckInterval))
}

func TestToDirStatusRejectsUnknownOption(t *testing.T) {
	dc := DirConfig{Alias: "dir01", Options: []string{"levitate"}}
	_, err := dc.ToDirStatus()
	assert.Error(t, err)
}
