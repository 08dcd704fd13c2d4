package smtpx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMessageContainsHeadersAndAttachment(t *testing.T) {
	msg := buildMessage("sender@example.com", []string{"dest@example.com"}, "report.dat", []byte("payload bytes"))
	s := string(msg)
	assert.Contains(t, s, "From: sender@example.com")
	assert.Contains(t, s, "To: dest@example.com")
	assert.Contains(t, s, "Subject: report.dat")
	assert.Contains(t, s, "Content-Transfer-Encoding: base64")
	assert.Contains(t, s, `filename="report.dat"`)
}

func TestBuildMessageWrapsLongBase64Lines(t *testing.T) {
	msg := buildMessage("a@b.com", []string{"c@d.com"}, "x", make([]byte, 200))
	for _, line := range strings.Split(string(msg), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
}

func TestListAndGetUnsupported(t *testing.T) {
	tr := New("a@b.com", []string{"c@d.com"})
	_, err := tr.List(nil, ".")
	assert.Error(t, err)
	_, _, err = tr.Get(nil, "x")
	assert.Error(t, err)
}
