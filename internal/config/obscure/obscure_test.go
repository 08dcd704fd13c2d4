package obscure

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObscureRevealRoundTrip(t *testing.T) {
	for _, in := range []string{"", "potato", "s3cr3t-pass!"} {
		cryptRand = bytes.NewBufferString("aaaaaaaaaaaaaaaa")
		got, err := Obscure(in)
		cryptRand = rand.Reader
		require.NoError(t, err)

		revealed, err := Reveal(got)
		require.NoError(t, err)
		assert.Equal(t, in, revealed)
	}
}

func TestObscureDiffersByIV(t *testing.T) {
	cryptRand = bytes.NewBufferString("aaaaaaaaaaaaaaaa")
	got1, err := Obscure("potato")
	require.NoError(t, err)
	cryptRand = bytes.NewBufferString("bbbbbbbbbbbbbbbb")
	got2, err := Obscure("potato")
	cryptRand = rand.Reader
	require.NoError(t, err)
	assert.NotEqual(t, got1, got2)
}

func TestRevealRejectsBadBase64(t *testing.T) {
	_, err := Reveal("not*valid*base64*")
	assert.Error(t, err)
}

func TestRevealRejectsShortInput(t *testing.T) {
	_, err := Reveal("")
	assert.Error(t, err)
}

func TestMustObscureMustRevealRoundTrip(t *testing.T) {
	got := MustObscure("hunter2")
	assert.Equal(t, "hunter2", MustReveal(got))
}
