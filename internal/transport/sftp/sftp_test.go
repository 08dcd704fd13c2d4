package sftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ssh"
)

func TestNewConfiguresHostKeyCallback(t *testing.T) {
	tr := New(ssh.InsecureIgnoreHostKey())
	assert.NotNil(t, tr.config.HostKeyCallback)
}

func TestPutNilConnIsNoop(t *testing.T) {
	tr := New(ssh.InsecureIgnoreHostKey())
	tr.put(nil, nil)
	assert.Empty(t, tr.pool)
}
