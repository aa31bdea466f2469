package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/brandon/mailcore/internal/credential"
)

// readSecret returns the first line of r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("empty secret")
	}
	return secret, nil
}

// storeSecret saves the secret read from r in the keyring, where a
// "keyring:<key>" credential source finds it.
func storeSecret(key string, r io.Reader) error {
	if key == "" {
		return fmt.Errorf("usage: mailcore store-secret <key>")
	}
	secret, err := readSecret(r)
	if err != nil {
		return err
	}
	return credential.Store(key, secret)
}
