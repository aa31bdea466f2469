// Package credential produces account secrets on demand.
//
// A secret source is configured as a string with a scheme prefix:
//
//	raw:<secret>       the secret itself
//	cmd:<command>      the first line printed by a shell command
//	keyring:<key>      an item of the system keyring
//
// A value without a known prefix is taken as a raw secret.
package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mailcore"

// Provider yields a plaintext secret.
type Provider interface {
	Secret(ctx context.Context) (string, error)
}

// ErrEmpty is returned when a source yields an empty secret.
var ErrEmpty = errors.New("empty secret")

// Parse builds the provider of a configured secret source.
func Parse(source string) (Provider, error) {
	scheme, rest, found := strings.Cut(source, ":")
	if !found {
		return Raw(source), nil
	}

	switch scheme {
	case "raw":
		return Raw(rest), nil
	case "cmd":
		if strings.TrimSpace(rest) == "" {
			return nil, fmt.Errorf("cmd: source needs a command")
		}
		return Command(rest), nil
	case "keyring":
		if rest == "" {
			return nil, fmt.Errorf("keyring: source needs a key")
		}
		return &Keyring{Key: rest, Open: openKeyring}, nil
	default:
		return Raw(source), nil
	}
}

// Raw is a secret written in the configuration.
type Raw string

func (r Raw) Secret(context.Context) (string, error) {
	if r == "" {
		return "", ErrEmpty
	}
	return string(r), nil
}

// Command is a shell command printing the secret on its first line.
type Command string

func (c Command) Secret(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", string(c))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running secret command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	line, _, _ := strings.Cut(string(out), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ErrEmpty
	}
	return line, nil
}

// Keyring reads a secret from the system keyring.
type Keyring struct {
	Key  string
	Open func() (keyring.Keyring, error)
}

func (k *Keyring) Secret(context.Context) (string, error) {
	ring, err := k.Open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(k.Key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", k.Key, err)
	}
	if len(item.Data) == 0 {
		return "", ErrEmpty
	}
	return string(item.Data), nil
}

// Store saves a secret in the system keyring under key.
func Store(key, secret string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(secret),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailcore/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailcore-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}
