package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/target/agentops-console/config"
	"github.com/target/agentops-console/internal/bootstrap"
	"github.com/target/agentops-console/internal/gate"
	"github.com/target/agentops-console/internal/tenant"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig

	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	logger := bootstrap.InitLogger(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(&commandContext{
		Ctx:    ctx,
		Logger: logger,
		Config: cfg,
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}, os.Args[1:])
	stop()
	os.Exit(code) //nolint:forbidigo // CLI must propagate command status to callers
}

// run dispatches args to a command and returns the process exit status.
func run(cmdCtx *commandContext, args []string) int {
	if len(args) == 0 {
		if err := printUsage(cmdCtx.ErrOut); err != nil {
			cmdCtx.Logger.Error("print usage failed", "error", err)
		}
		return 2
	}

	cmd, ok := commands()[args[0]]
	if !ok {
		if err := writef(cmdCtx.ErrOut, "unknown command %q\n\n", args[0]); err != nil {
			cmdCtx.Logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(cmdCtx.ErrOut); err != nil {
			cmdCtx.Logger.Error("print usage failed", "error", err)
		}
		return 2
	}

	if err := cmd.run(cmdCtx, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		cmdCtx.Logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmd.name, "error", err)
		if werr := writef(cmdCtx.ErrOut, "%s: %v\n", cmd.name, err); werr != nil {
			cmdCtx.Logger.Error("print command error failed", "error", werr)
		}
		return 1
	}
	return 0
}

func commands() map[string]command {
	list := []command{
		{"signin", "Sign in with email and password", runSignIn},
		{"signup", "Create an account", runSignUp},
		{"signout", "Sign out and clear the stored session", runSignOut},
		{"status", "Show the session, tenant and gate decision", runStatus},
		{"magic-link", "Email a single-use sign-in link", runMagicLink},
		{"redeem-link", "Sign in with a magic-link or recovery token", runRedeemLink},
		{"reset-password", "Email a password recovery link", runResetPassword},
		{"update-password", "Change the signed-in user's password", runUpdatePassword},
		{"oauth-login", "Sign in through an external provider in the browser", runOAuthLogin},
		{"mfa-enroll", "Enroll a TOTP authenticator", runMFAEnroll},
		{"mfa-verify", "Verify a TOTP code and step up to aal2", runMFAVerify},
		{"mfa-unenroll", "Remove an MFA factor", runMFAUnenroll},
		{"mfa-list", "List enrolled MFA factors", runMFAList},
		{"orgs", "List organizations and the projects of the active one", runOrgs},
		{"use-org", "Switch the active organization", runUseOrg},
		{"use-project", "Switch the active project", runUseProject},
		{"api", "Call the application API with the current session and tenant", runAPI},
		{"proxy", "Serve an authenticating reverse proxy to the application API", runProxy},
		{"dev-api", "Serve the in-process application API for IDENTITY_MODE=mock", runDevAPI},
		{"migrate", "Apply the postgres device state schema", runMigrate},
	}
	m := make(map[string]command, len(list))
	for _, c := range list {
		m[c.name] = c
	}
	return m
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: agentops-console <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-18s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func newFlagSet(cmdCtx *commandContext, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cmdCtx.ErrOut)
	return fs
}

// openConsole builds the console and restores the stored session. A restore failure is
// reported but leaves the console usable; commands decide what an anonymous session means.
func openConsole(cmdCtx *commandContext) (*bootstrap.Console, error) {
	console, err := bootstrap.BuildConsole(cmdCtx.Ctx, bootstrap.ConsoleOptions{
		Config: cmdCtx.Config,
		Logger: cmdCtx.Logger,
		OnUnauthenticated: func(err error) {
			_ = writef(cmdCtx.ErrOut, "session ended: %v\nrun `agentops-console signin` to continue\n", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build console: %w", err)
	}
	if _, err := console.Start(cmdCtx.Ctx); err != nil {
		cmdCtx.Logger.WarnContext(cmdCtx.Ctx, "session restore failed", "error", err)
	}
	return console, nil
}

func closeConsole(cmdCtx *commandContext, console *bootstrap.Console) {
	if err := console.Close(); err != nil {
		cmdCtx.Logger.Warn("console close failed", "error", err)
	}
}

// settle waits for tenant resolution of an authenticated session to finish. A user change has
// already moved the selection to loading by the time the session call returns, so a settled
// selection always belongs to the current user.
func settle(cmdCtx *commandContext, console *bootstrap.Console) error {
	if !console.Sessions.Snapshot().Authenticated() {
		return nil
	}
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, cmdCtx.Config.API.Timeout)
	defer cancel()
	_, err := console.Tenants.Await(ctx, tenant.Settled)
	return err
}

func printDecision(w io.Writer, d gate.Decision) error {
	if err := writef(w, "view: %s\n", d.View); err != nil {
		return err
	}
	switch d.View {
	case gate.ViewSignIn:
		return writef(w, "hint: run `agentops-console signin`\n")
	case gate.ViewMFAChallenge:
		return writef(w, "hint: run `agentops-console mfa-verify -code <code>`\n")
	case gate.ViewOnboarding:
		return writef(w, "hint: no organization or project is available yet\n")
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
