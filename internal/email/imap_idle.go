package email

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/backend"
)

// NotifyFunc is called with the subject and sender of every new message.
type NotifyFunc func(ctx context.Context, subject, sender string) error

// CommandNotifier runs a shell command per new message, with the subject
// and sender exported as MAILCORE_SUBJECT and MAILCORE_SENDER.
func CommandNotifier(command string) NotifyFunc {
	return func(ctx context.Context, subject, sender string) error {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Env = append(os.Environ(),
			"MAILCORE_SUBJECT="+subject,
			"MAILCORE_SENDER="+sender,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("notify command: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

// Notify watches folder with IDLE and calls notify once per new message
// (Recent and not Seen). It returns when ctx is done or the session fails.
func (c *IMAPClient) Notify(ctx context.Context, folder string, keepalive time.Duration, notify NotifyFunc) error {
	return c.withSession(ctx, func(s *Session) error {
		if _, err := s.Select(c.mailbox(folder), true); err != nil {
			return err
		}
		s.clearWake()

		seen := make(map[uint32]bool)
		criteria := imap.NewSearchCriteria()
		criteria.WithFlags = []string{imap.RecentFlag}
		criteria.WithoutFlags = []string{imap.SeenFlag}

		for {
			uids, err := s.client.UidSearch(criteria)
			if err != nil {
				return &backend.ProtocolError{Op: "uid search", Target: folder, Err: err}
			}

			if fresh := newUIDs(uids, seen); len(fresh) > 0 {
				if err := c.notifyNew(ctx, s, fresh, notify, seen); err != nil {
					return err
				}
			}

			c.logger.WithField("folder", folder).Debug("Entering IDLE")
			if _, err := s.idle(ctx, keepalive); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	})
}

func (c *IMAPClient) notifyNew(ctx context.Context, s *Session, uids []uint32, notify NotifyFunc, seen map[uint32]bool) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	msgs, err := s.fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, true)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		env := toEnvelope(msg)
		if err := notify(ctx, env.Subject, env.From); err != nil {
			c.logger.WithError(err).WithField("uid", msg.Uid).Warn("Failed to notify new message")
		}
		seen[msg.Uid] = true
	}
	return nil
}

// Watch runs commands in the background every time the server signals a
// change in folder. A keepalive that elapses without a change only
// restarts IDLE. The loop does not wait for the commands; their
// outcome is reported back and logged, and in-flight runs are awaited
// before Watch returns.
func (c *IMAPClient) Watch(ctx context.Context, folder string, keepalive time.Duration, commands []string) error {
	tasks := newSupervisor(c.logger)
	defer tasks.wait()

	return c.withSession(ctx, func(s *Session) error {
		if _, err := s.Select(c.mailbox(folder), true); err != nil {
			return err
		}
		s.clearWake()

		for {
			c.logger.WithField("folder", folder).Debug("Entering IDLE")
			woken, err := s.idle(ctx, keepalive)
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			if woken {
				tasks.spawn(ctx, commands)
			}
			tasks.drain()
		}
	})
}

// TaskResult is the outcome of one background command run.
type TaskResult struct {
	ID       int
	Err      error
	Duration time.Duration
}

// supervisor runs background tasks and collects their results on a
// channel owned by the spawning loop.
type supervisor struct {
	results chan TaskResult
	wg      sync.WaitGroup
	next    int
	logger  *logrus.Logger
}

func newSupervisor(logger *logrus.Logger) *supervisor {
	return &supervisor{
		results: make(chan TaskResult, 64),
		logger:  logger,
	}
}

func (s *supervisor) spawn(ctx context.Context, commands []string) int {
	s.next++
	id := s.next

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		err := runCommands(ctx, commands)
		s.results <- TaskResult{ID: id, Err: err, Duration: time.Since(start)}
	}()
	return id
}

// drain logs the results available without blocking.
func (s *supervisor) drain() []TaskResult {
	var out []TaskResult
	for {
		select {
		case res := <-s.results:
			s.report(res)
			out = append(out, res)
		default:
			return out
		}
	}
}

// wait blocks until every spawned task has finished and logs the
// remaining results.
func (s *supervisor) wait() []TaskResult {
	go func() {
		s.wg.Wait()
		close(s.results)
	}()

	var out []TaskResult
	for res := range s.results {
		s.report(res)
		out = append(out, res)
	}
	return out
}

func (s *supervisor) report(res TaskResult) {
	entry := s.logger.WithFields(logrus.Fields{
		"task":     res.ID,
		"duration": res.Duration,
	})
	if res.Err != nil {
		entry.WithError(res.Err).Warn("Watch command failed")
		return
	}
	entry.Debug("Watch commands finished")
}

func runCommands(ctx context.Context, commands []string) error {
	for _, command := range commands {
		out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
		if err != nil {
			return fmt.Errorf("command %q: %w: %s", command, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// newUIDs returns the uids not yet notified, in server order.
func newUIDs(uids []uint32, seen map[uint32]bool) []uint32 {
	var fresh []uint32
	for _, uid := range uids {
		if !seen[uid] {
			fresh = append(fresh, uid)
		}
	}
	return fresh
}
