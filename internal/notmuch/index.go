package notmuch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Indexed is one message as the notmuch index knows it.
type Indexed struct {
	ID        string
	Filenames []string
	Tags      []string
	Subject   string
	From      string
	Date      time.Time
}

// Index is the part of notmuch the backend drives.
type Index interface {
	// Search returns the messages matching a notmuch query.
	Search(ctx context.Context, query string) ([]Indexed, error)
	// New picks up files added to the database root.
	New(ctx context.Context) error
	// Tag adds then removes tags on the message with the given id.
	Tag(ctx context.Context, id string, add, remove []string) error
}

// CLI drives the notmuch command line tool.
type CLI struct {
	bin    string
	config string
	logger *logrus.Logger
}

// NewCLI creates an index running bin. A non-empty configPath is passed
// through NOTMUCH_CONFIG.
func NewCLI(bin, configPath string, logger *logrus.Logger) *CLI {
	if bin == "" {
		bin = "notmuch"
	}
	return &CLI{
		bin:    bin,
		config: configPath,
		logger: logger,
	}
}

func (c *CLI) Search(ctx context.Context, query string) ([]Indexed, error) {
	out, err := c.run(ctx, "show", "--format=json", "--body=false", "--entire-thread=false", query)
	if err != nil {
		return nil, err
	}
	return parseShow(out)
}

func (c *CLI) New(ctx context.Context) error {
	_, err := c.run(ctx, "new", "--quiet")
	return err
}

func (c *CLI) Tag(ctx context.Context, id string, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	args := []string{"tag"}
	for _, tag := range add {
		args = append(args, "+"+tag)
	}
	for _, tag := range remove {
		args = append(args, "-"+tag)
	}
	args = append(args, "--", IDQuery(id))
	_, err := c.run(ctx, args...)
	return err
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	if c.config != "" {
		cmd.Env = append(os.Environ(), "NOTMUCH_CONFIG="+c.config)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.WithField("args", args).Debug("Running notmuch")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("notmuch %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// IDQuery builds the query term matching exactly one message id.
func IDQuery(id string) string {
	return `id:"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

type showMessage struct {
	ID        string            `json:"id"`
	Match     bool              `json:"match"`
	Filename  json.RawMessage   `json:"filename"`
	Timestamp int64             `json:"timestamp"`
	Tags      []string          `json:"tags"`
	Headers   map[string]string `json:"headers"`
}

// parseShow flattens the thread forest printed by notmuch show. Each thread
// is a list of [message, [replies...]] nodes; messages that did not match
// the query are skipped but their replies are still visited.
func parseShow(data []byte) ([]Indexed, error) {
	var threads []json.RawMessage
	if err := json.Unmarshal(data, &threads); err != nil {
		return nil, fmt.Errorf("failed to decode notmuch output: %w", err)
	}

	var out []Indexed
	for _, thread := range threads {
		var nodes []json.RawMessage
		if err := json.Unmarshal(thread, &nodes); err != nil {
			return nil, fmt.Errorf("failed to decode thread: %w", err)
		}
		for _, node := range nodes {
			if err := walkNode(node, &out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func walkNode(node json.RawMessage, out *[]Indexed) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(node, &pair); err != nil {
		return fmt.Errorf("failed to decode thread node: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("unexpected thread node of %d elements", len(pair))
	}

	if !isNull(pair[0]) {
		var msg showMessage
		if err := json.Unmarshal(pair[0], &msg); err != nil {
			return fmt.Errorf("failed to decode message: %w", err)
		}
		if msg.Match {
			indexed, err := msg.indexed()
			if err != nil {
				return err
			}
			*out = append(*out, indexed)
		}
	}

	var replies []json.RawMessage
	if err := json.Unmarshal(pair[1], &replies); err != nil {
		return fmt.Errorf("failed to decode replies: %w", err)
	}
	for _, reply := range replies {
		if err := walkNode(reply, out); err != nil {
			return err
		}
	}
	return nil
}

func (m showMessage) indexed() (Indexed, error) {
	indexed := Indexed{
		ID:      m.ID,
		Tags:    m.Tags,
		Subject: m.Headers["Subject"],
		From:    m.Headers["From"],
	}
	if m.Timestamp != 0 {
		indexed.Date = time.Unix(m.Timestamp, 0)
	}

	// Older notmuch versions print a single filename.
	if len(m.Filename) > 0 && !isNull(m.Filename) {
		if m.Filename[0] == '"' {
			var name string
			if err := json.Unmarshal(m.Filename, &name); err != nil {
				return Indexed{}, fmt.Errorf("failed to decode filename of %s: %w", m.ID, err)
			}
			indexed.Filenames = []string{name}
		} else if err := json.Unmarshal(m.Filename, &indexed.Filenames); err != nil {
			return Indexed{}, fmt.Errorf("failed to decode filenames of %s: %w", m.ID, err)
		}
	}
	return indexed, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
