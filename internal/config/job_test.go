package config

import (
	"testing"

	"github.com/afdcore/afd/internal/burst"
	"github.com/afdcore/afd/internal/config/obscure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSendJobRequiresJobID(t *testing.T) {
	path := writeTempFile(t, `
path: /incoming/bulletin.txt
protocol: ftp
`)
	_, err := LoadSendJob(path)
	assert.Error(t, err)
}

func TestLoadSendJobSuccess(t *testing.T) {
	pw := obscure.MustObscure("s3cr3t")
	path := writeTempFile(t, `
job_id: 42
protocol: ftp
path: /incoming/bulletin.txt
user: feeder
password: `+pw+`
port: 21
`)
	d, err := LoadSendJob(path)
	require.NoError(t, err)
	assert.EqualValues(t, 42, d.JobID)
	assert.Equal(t, "s3cr3t", d.Password)
	assert.Equal(t, "/incoming/bulletin.txt", d.ActiveTargetDir)
}

func TestLoadFetchJobRequiresDirID(t *testing.T) {
	path := writeTempFile(t, `
path: /outgoing
`)
	_, err := LoadFetchJob(path)
	assert.Error(t, err)
}

func TestLoadFetchJobSuccess(t *testing.T) {
	path := writeTempFile(t, `
dir_id: 7
path: /outgoing
protocol: http
`)
	d, err := LoadFetchJob(path)
	require.NoError(t, err)
	assert.EqualValues(t, 7, d.DirID)
}

func TestJobRefAndConnectionParams(t *testing.T) {
	d := &JobDescriptor{JobID: 1, DirID: 2, Path: "/x", Port: 443, TLSAuth: "tls12", User: "bob"}
	ref := d.JobRef(burst.DirectionSend)
	assert.EqualValues(t, 1, ref.JobID)
	assert.EqualValues(t, 2, ref.DirID)
	assert.Equal(t, burst.DirectionSend, ref.Direction)
	cp := d.ConnectionParams()
	assert.Equal(t, 443, cp.Port)
	assert.Equal(t, "bob", cp.User)
}
