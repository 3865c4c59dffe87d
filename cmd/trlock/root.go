package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MatthiasKunnen/trlock/pkg/account"
	"github.com/MatthiasKunnen/trlock/pkg/audit"
	"github.com/MatthiasKunnen/trlock/pkg/config"
	"github.com/MatthiasKunnen/trlock/pkg/credential"
	"github.com/MatthiasKunnen/trlock/pkg/idle"
	"github.com/MatthiasKunnen/trlock/pkg/locker"
	"github.com/MatthiasKunnen/trlock/pkg/logging"
	"github.com/MatthiasKunnen/trlock/pkg/logind"
	"github.com/MatthiasKunnen/trlock/pkg/notify"
	"github.com/MatthiasKunnen/trlock/pkg/secrets"
	"github.com/MatthiasKunnen/trlock/pkg/x11"
)

var version = "dev"

var errNoAction = errors.New("no lock action given, use -l, -p, -e or -c")

type rootFlags struct {
	lockUser     bool
	password     string
	hashed       string
	calculate    string
	blank        bool
	blinkDelay   int
	notify       bool
	configPath   string
	display      string
	onLockSignal bool
	onIdle       time.Duration
	lockKeyring  bool
	logLevel     string
	logFormat    string
}

// app holds what the commands need from the host, replaced in tests.
type app struct {
	privileges locker.Privileges
	accounts   credential.Accounts
	lockMemory func() error
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(app{
		privileges: account.Privileges{},
		accounts:   account.DefaultFiles(),
		lockMemory: account.LockMemory,
	})
}

func newRootCmdWith(a app) *cobra.Command {
	var f rootFlags

	cmd := &cobra.Command{
		Use:   "trlock",
		Short: "Lock the X display until the password is entered",
		Long: "trlock grabs keyboard and pointer of an X display and releases them once the " +
			"password of the user, or the one given on the command line, is typed followed by Enter. " +
			"Nothing is shown while locked.",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The lock drops them itself once the account hash has been read.
			if !cmd.HasParent() && f.calculate == "" {
				return nil
			}
			if err := a.privileges.Drop(); err != nil {
				return fmt.Errorf("failed to drop privileges: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLock(cmd, &f)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&f.lockUser, "lock-user-password", "l", false, "unlock with the password of the current user")
	flags.StringVarP(&f.password, "password", "p", "", "unlock with this password")
	flags.StringVarP(&f.hashed, "encrypted-password", "e", "", "unlock with the password of this crypt(3) hash")
	flags.StringVarP(&f.calculate, "calculate", "c", "", "print the hash of a password for use with -e and exit")
	flags.BoolVarP(&f.blank, "block-screen", "b", false, "keep the screen black while locked")
	flags.IntVarP(&f.blinkDelay, "delay-of-blink", "d", 0, "milliseconds the screen blinks after locking, 0 disables the blink")
	flags.BoolVarP(&f.notify, "notify", "n", false, "send a notification on lock and unlock")
	flags.StringVar(&f.display, "display", "", "X display to lock, defaults to $DISPLAY")
	flags.BoolVar(&f.onLockSignal, "on-lock-signal", false, "wait for logind to request a lock or the system to sleep before locking")
	flags.DurationVar(&f.onIdle, "on-idle", 0, "wait until keyboard and pointer were idle this long before locking")
	flags.BoolVar(&f.lockKeyring, "lock-keyring", false, "lock the Secret Service collections when locking")
	cmd.MarkFlagsMutuallyExclusive("lock-user-password", "password", "encrypted-password", "calculate")
	cmd.MarkFlagsMutuallyExclusive("on-lock-signal", "on-idle")

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&f.configPath, "config", "", "path to the configuration file")
	persistent.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	persistent.StringVar(&f.logFormat, "log-format", "", "log format: text or json")

	cmd.AddCommand(newHashCmd())
	cmd.AddCommand(newAttemptsCmd(&f))

	return cmd
}

func (a app) runLock(cmd *cobra.Command, f *rootFlags) error {
	if f.calculate != "" {
		hash, err := credential.FromPlaintext(f.calculate)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
		return err
	}

	var src credential.Source
	switch {
	case f.lockUser:
		src = credential.Account(os.Getuid())
	case f.password != "":
		src = credential.Plaintext(f.password)
	case f.hashed != "":
		src = credential.Hashed(f.hashed)
	default:
		cmd.SetOut(cmd.ErrOrStderr())
		_ = cmd.Help()
		return errNoAction
	}

	log, err := newLogger(cmd.ErrOrStderr(), f.logLevel, f.logFormat, "info", "text")
	if err != nil {
		return err
	}

	if err := a.lockMemory(); err != nil {
		log.Debug("Failed to lock memory", "err", err)
	}

	resolver := credential.Resolver{Accounts: a.accounts, Log: log}
	provider, err := locker.ResolveSecret(resolver, src, a.privileges)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, f, cfg)

	log, err = newLogger(cmd.ErrOrStderr(), f.logLevel, f.logFormat, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	return lock(cmd, f, cfg, provider, log)
}

func applyFlags(cmd *cobra.Command, f *rootFlags, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("display") {
		cfg.Display = f.display
	}
	if flags.Changed("block-screen") {
		cfg.Blank = f.blank
	}
	if flags.Changed("delay-of-blink") {
		cfg.BlinkDelayMs = max(f.blinkDelay, 0)
	}
	if flags.Changed("notify") {
		cfg.Notify = f.notify
	}
	if flags.Changed("lock-keyring") {
		cfg.LockKeyring = f.lockKeyring
	}
	if flags.Changed("on-idle") {
		cfg.IdleTimeoutMs = int(max(f.onIdle, 0).Milliseconds())
	}
}

func newLogger(w io.Writer, level, format, fallbackLevel, fallbackFormat string) (*slog.Logger, error) {
	if level == "" {
		level = fallbackLevel
	}
	if format == "" {
		format = fallbackFormat
	}

	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logFormat, err := logging.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = lvl
	cfg.Format = logFormat
	cfg.Output = w

	log := logging.New(cfg)
	slog.SetDefault(log)
	return log, nil
}

func lock(cmd *cobra.Command, f *rootFlags, cfg *config.Config, provider credential.Provider, log *slog.Logger) error {
	conn, err := x11.Open(cfg.Display, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warn("Failed to close display", "err", err)
		}
	}()

	opts := locker.Options{
		Grab:         cfg.GrabSettings(),
		Throttle:     cfg.ThrottleSettings(),
		LockedIcon:   cfg.LockedIcon,
		UnlockedIcon: cfg.UnlockedIcon,
		Log:          log,
	}

	var session *logind.Session
	if cfg.LockedHint || f.onLockSignal {
		session, err = logind.NewSession(os.Getenv("XDG_SESSION_ID"))
		if err != nil {
			if f.onLockSignal {
				return fmt.Errorf("cannot wait for lock requests: %w", err)
			}
			log.Warn("Failed to connect to logind", "err", err)
		} else {
			defer session.Close()
			if cfg.LockedHint {
				opts.Hint = session
			}
			if locked, err := session.LockedHint(); err == nil && locked {
				log.Warn("Session is already marked as locked, another lock may be running")
			}
		}
	}

	if cfg.LockKeyring {
		keyring, err := secrets.New()
		if err != nil {
			log.Warn("Failed to connect to the secret service", "err", err)
		} else {
			defer keyring.Close()
			opts.Keyring = keyring
		}
	}

	if cfg.Notify {
		notifier, err := notify.New("trlock", log)
		if err != nil {
			log.Warn("Failed to connect to the notification service", "err", err)
		} else {
			defer notifier.Close()
			opts.Notifier = notifier
		}
	}

	if cfg.AuditDB != "" {
		journal, err := audit.Open(cfg.AuditDB)
		if err != nil {
			log.Warn("Failed to open journal", "path", cfg.AuditDB, "err", err)
		} else {
			defer journal.Close()
			opts.Journal = journal
		}
	}

	release := func() error { return nil }
	switch {
	case f.onLockSignal:
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		release, err = locker.WaitForLockRequest(ctx, session, log)
		stop()
		if err != nil {
			return err
		}
	case cfg.IdleTimeoutMs > 0:
		after := time.Duration(cfg.IdleTimeoutMs) * time.Millisecond
		log.Info("Waiting for idle", "after", after)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		idler := idle.NewPollingController(conn, idle.DefaultPollInterval, log)
		err = locker.WaitForIdle(ctx, idler, after)
		stop()
		if cerr := idler.Close(); cerr != nil {
			log.Warn("Failed to stop idle watcher", "err", cerr)
		}
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	opts.OnLocked = func() {
		fmt.Fprintln(out, "Successfully locked")
		if err := release(); err != nil {
			log.Warn("Failed to release sleep inhibitor", "err", err)
		}
	}

	return locker.NewSession(conn, provider, opts).Run()
}
