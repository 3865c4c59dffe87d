package credential

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"
)

var ErrAuthBackend = errors.New("auth backend error")

const suTimeout = 6 * time.Second

// su verifies account passwords by running su(1) behind a pseudo terminal. It covers the hash
// schemes the system's libcrypt supports but the pure Go crypters do not, like yescrypt.
type su struct {
	user    string
	timeout time.Duration
	command func(ctx context.Context, user string) *exec.Cmd
	log     *slog.Logger
}

func newSu(user string, log *slog.Logger) *su {
	return &su{
		user:    user,
		timeout: suTimeout,
		command: suCommand,
		log:     log,
	}
}

func suCommand(ctx context.Context, user string) *exec.Cmd {
	return exec.CommandContext(ctx, "su", "-s", "/bin/sh", "-c", "true", user)
}

func (s *su) Verify(candidate string) bool {
	ok, err := s.check(candidate)
	if err != nil {
		s.log.Warn("Password verification through su failed", "err", err)
	}
	return ok
}

func (s *su) check(candidate string) (bool, error) {
	if strings.TrimSpace(s.user) == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cmd := s.command(ctx, s.user)
	f, err := pty.Start(cmd)
	if err != nil {
		return false, fmt.Errorf("%w: start su: %v", ErrAuthBackend, err)
	}
	defer func() { _ = f.Close() }()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)

		var out bytes.Buffer
		prompted := false
		br := bufio.NewReader(f)
		buf := make([]byte, 4096)
		for {
			_ = f.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
			n, rerr := br.Read(buf)
			if n > 0 && !prompted {
				out.Write(buf[:n])
				if strings.Contains(strings.ToLower(out.String()), "password") {
					prompted = true
					out.Reset()
					_, _ = io.WriteString(f, candidate+"\n")
				}
			}
			if errors.Is(rerr, os.ErrDeadlineExceeded) {
				continue
			}
			if rerr != nil {
				return
			}
		}
	}()

	err = cmd.Wait()
	_ = f.Close()
	<-readerDone

	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("%w: su timed out", ErrAuthBackend)
	}
	return false, nil
}
