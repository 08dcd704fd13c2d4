package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHasUsablePoolAndPacer(t *testing.T) {
	tr := New(4, true)
	assert.NotNil(t, tr.tokens)
	assert.NotNil(t, tr.pacer)
	assert.True(t, tr.passive)
}

func TestPutWithoutGetIsNoop(t *testing.T) {
	tr := New(0, false)
	tr.put(nil, nil)
	assert.Empty(t, tr.pool)
}
