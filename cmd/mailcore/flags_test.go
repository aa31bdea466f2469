package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"INBOX", "Archive/2023"}, splitList(" INBOX, ,Archive/2023 "))
	assert.Nil(t, splitList(""))
}

func TestReadSecret(t *testing.T) {
	secret, err := readSecret(strings.NewReader("hunter2\r\nignored\n"))
	assert.NoError(t, err)
	assert.Equal(t, "hunter2", secret)

	secret, err = readSecret(strings.NewReader("no-newline"))
	assert.NoError(t, err)
	assert.Equal(t, "no-newline", secret)

	_, err = readSecret(strings.NewReader(""))
	assert.Error(t, err)
	assert.Error(t, storeSecret("", strings.NewReader("x")))
}
