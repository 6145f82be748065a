package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
)

const defaultOAuthTimeout = 5 * time.Minute

type credentialOptions struct {
	Email         string
	Password      string
	PasswordStdin bool
	Name          string
}

func parseCredentialFlags(cmdCtx *commandContext, name string, args []string) (credentialOptions, error) {
	fs := newFlagSet(cmdCtx, name)
	var opts credentialOptions
	if name != "update-password" {
		fs.StringVar(&opts.Email, "email", "", "Account email address")
	}
	if name == "signup" {
		fs.StringVar(&opts.Name, "name", "", "Display name stored in the account metadata")
	}
	fs.StringVar(&opts.Password, "password", "", "Account password (prefer -password-stdin)")
	fs.BoolVar(&opts.PasswordStdin, "password-stdin", false, "Read the password from the first line of stdin")
	if err := fs.Parse(args); err != nil {
		return credentialOptions{}, err
	}
	if opts.PasswordStdin {
		pw, err := readSecret(cmdCtx.In)
		if err != nil {
			return credentialOptions{}, err
		}
		opts.Password = pw
	}
	return opts, nil
}

func readSecret(r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("stdin is not available")
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password on stdin")
	}
	return line, nil
}

func runSignIn(cmdCtx *commandContext, args []string) error {
	opts, err := parseCredentialFlags(cmdCtx, "signin", args)
	if err != nil {
		return err
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	snap, err := console.Sessions.SignIn(cmdCtx.Ctx, opts.Email, opts.Password)
	if err != nil {
		return err
	}
	if err := writef(cmdCtx.Out, "signed in as %s (%s)\n", snap.User().Email, snap.Assurance.Current); err != nil {
		return err
	}
	if err := settle(cmdCtx, console); err != nil {
		cmdCtx.Logger.WarnContext(cmdCtx.Ctx, "tenant resolution did not settle", "error", err)
	}
	return printDecision(cmdCtx.Out, console.Gate.Decision())
}

func runSignUp(cmdCtx *commandContext, args []string) error {
	opts, err := parseCredentialFlags(cmdCtx, "signup", args)
	if err != nil {
		return err
	}
	var metadata map[string]any
	if opts.Name != "" {
		metadata = map[string]any{"full_name": opts.Name}
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	result, err := console.Sessions.SignUp(cmdCtx.Ctx, opts.Email, opts.Password, metadata)
	if err != nil {
		return err
	}
	if result.ConfirmationRequired() {
		return writef(cmdCtx.Out, "account created for %s; follow the confirmation email, then sign in\n", result.User.Email)
	}
	if err := writef(cmdCtx.Out, "account created; signed in as %s\n", result.User.Email); err != nil {
		return err
	}
	if err := settle(cmdCtx, console); err != nil {
		cmdCtx.Logger.WarnContext(cmdCtx.Ctx, "tenant resolution did not settle", "error", err)
	}
	return printDecision(cmdCtx.Out, console.Gate.Decision())
}

func runSignOut(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "signout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	if err := console.Sessions.SignOut(cmdCtx.Ctx); err != nil {
		return err
	}
	return writeln(cmdCtx.Out, "signed out")
}

type statusView struct {
	State        domainauth.State          `json:"state"`
	User         *statusUser               `json:"user,omitempty"`
	Assurance    domainauth.AssuranceLevel `json:"assurance"`
	Organization string                    `json:"organization_id,omitempty"`
	Project      string                    `json:"project_id,omitempty"`
	Tenant       string                    `json:"tenant_status"`
	View         string                    `json:"view"`
	Error        string                    `json:"error,omitempty"`
}

type statusUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func runStatus(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "status")
	asJSON := fs.Bool("json", false, "Print the status as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	if err := settle(cmdCtx, console); err != nil {
		cmdCtx.Logger.WarnContext(cmdCtx.Ctx, "tenant resolution did not settle", "error", err)
	}

	snap := console.Sessions.Snapshot()
	sel := console.Tenants.Selection()
	decision := console.Gate.Decision()
	view := statusView{
		State:        snap.State,
		Assurance:    snap.Assurance,
		Organization: sel.OrganizationID(),
		Project:      sel.ProjectID(),
		Tenant:       string(sel.Status),
		View:         string(decision.View),
	}
	if u := snap.User(); u.ID != "" {
		view.User = &statusUser{ID: u.ID, Email: u.Email}
	}
	if snap.Err != nil {
		view.Error = snap.Err.Error()
	} else if sel.Err != nil {
		view.Error = sel.Err.Error()
	}

	if *asJSON {
		enc := json.NewEncoder(cmdCtx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	if err := writef(cmdCtx.Out, "state: %s\n", view.State); err != nil {
		return err
	}
	if view.User != nil {
		if err := writef(cmdCtx.Out, "user: %s (%s)\naal: %s (next %s)\n", view.User.Email, view.User.ID, view.Assurance.Current, view.Assurance.Next); err != nil {
			return err
		}
	}
	if sel.Organization != nil {
		if err := writef(cmdCtx.Out, "organization: %s (%s)\n", sel.Organization.Name, sel.Organization.ID); err != nil {
			return err
		}
	}
	if sel.Project != nil {
		if err := writef(cmdCtx.Out, "project: %s (%s)\n", sel.Project.Name, sel.Project.ID); err != nil {
			return err
		}
	}
	if view.Error != "" {
		if err := writef(cmdCtx.Out, "last error: %s\n", view.Error); err != nil {
			return err
		}
	}
	return printDecision(cmdCtx.Out, decision)
}

func runMagicLink(cmdCtx *commandContext, args []string) error {
	return sendEmailLink(cmdCtx, "magic-link", args, func(ctx context.Context, console emailLinkSender, email string) error {
		return console.RequestMagicLink(ctx, email)
	})
}

func runResetPassword(cmdCtx *commandContext, args []string) error {
	return sendEmailLink(cmdCtx, "reset-password", args, func(ctx context.Context, console emailLinkSender, email string) error {
		return console.ResetPassword(ctx, email)
	})
}

type emailLinkSender interface {
	RequestMagicLink(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email string) error
}

func sendEmailLink(cmdCtx *commandContext, name string, args []string, send func(context.Context, emailLinkSender, string) error) error {
	fs := newFlagSet(cmdCtx, name)
	email := fs.String("email", "", "Account email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return apperrors.ValidationField("email", "-email is required")
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	if err := send(cmdCtx.Ctx, console.Sessions, *email); err != nil {
		return err
	}
	return writef(cmdCtx.Out, "if %s has an account, a link is on its way\n", *email)
}

type redeemOptions struct {
	Kind  domainauth.EmailLinkKind
	Token string
}

func parseRedeemFlags(cmdCtx *commandContext, args []string) (redeemOptions, error) {
	fs := newFlagSet(cmdCtx, "redeem-link")
	var kind, token, link string
	fs.StringVar(&kind, "type", string(domainauth.EmailLinkMagic), "Link type: magiclink or recovery")
	fs.StringVar(&token, "token", "", "Token from the emailed link")
	fs.StringVar(&link, "url", "", "The full emailed link; type and token are read from it")
	if err := fs.Parse(args); err != nil {
		return redeemOptions{}, err
	}

	if link != "" {
		u, err := url.Parse(link)
		if err != nil {
			return redeemOptions{}, apperrors.ValidationField("url", "invalid link")
		}
		q := u.Query()
		if t := q.Get("token"); t != "" {
			token = t
		}
		if k := q.Get("type"); k != "" {
			kind = k
		}
	}

	opts := redeemOptions{Kind: domainauth.EmailLinkKind(kind), Token: strings.TrimSpace(token)}
	switch opts.Kind {
	case domainauth.EmailLinkMagic, domainauth.EmailLinkRecovery:
	default:
		return redeemOptions{}, apperrors.ValidationField("type", "type must be magiclink or recovery")
	}
	if opts.Token == "" {
		return redeemOptions{}, apperrors.ValidationField("token", "-token or -url is required")
	}
	return opts, nil
}

func runRedeemLink(cmdCtx *commandContext, args []string) error {
	opts, err := parseRedeemFlags(cmdCtx, args)
	if err != nil {
		return err
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	snap, err := console.Sessions.RedeemEmailLink(cmdCtx.Ctx, opts.Kind, opts.Token)
	if err != nil {
		return err
	}
	if err := writef(cmdCtx.Out, "signed in as %s\n", snap.User().Email); err != nil {
		return err
	}
	if opts.Kind == domainauth.EmailLinkRecovery {
		if err := writeln(cmdCtx.Out, "set a new password with `agentops-console update-password`"); err != nil {
			return err
		}
	}
	if err := settle(cmdCtx, console); err != nil {
		cmdCtx.Logger.WarnContext(cmdCtx.Ctx, "tenant resolution did not settle", "error", err)
	}
	return printDecision(cmdCtx.Out, console.Gate.Decision())
}

func runUpdatePassword(cmdCtx *commandContext, args []string) error {
	opts, err := parseCredentialFlags(cmdCtx, "update-password", args)
	if err != nil {
		return err
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	if err := console.Sessions.UpdatePassword(cmdCtx.Ctx, opts.Password); err != nil {
		return err
	}
	return writeln(cmdCtx.Out, "password updated")
}

type oauthOptions struct {
	Provider domainauth.OAuthProvider
	Timeout  time.Duration
}

type oauthCallback struct {
	code  string
	state string
	err   error
}

func runOAuthLogin(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "oauth-login")
	var provider string
	opts := oauthOptions{}
	fs.StringVar(&provider, "provider", string(domainauth.OAuthGoogle), "OAuth provider: google, github or apple")
	fs.DurationVar(&opts.Timeout, "timeout", defaultOAuthTimeout, "How long to wait for the browser callback")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts.Provider = domainauth.OAuthProvider(strings.ToLower(provider))
	if !opts.Provider.Valid() {
		return apperrors.ValidationField("provider", "unsupported oauth provider")
	}

	redirect, err := url.Parse(cmdCtx.Config.Identity.Provider.RedirectURL)
	if err != nil || redirect.Host == "" {
		return apperrors.ValidationField("redirect_url", "IDP_REDIRECT_URL must be an absolute loopback URL")
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	callbacks := make(chan oauthCallback, 1)
	srv, err := listenForCallback(redirect, callbacks)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			cmdCtx.Logger.Warn("callback listener shutdown failed", "error", err)
		}
	}()

	authURL, err := console.Sessions.StartOAuth(ctx, opts.Provider)
	if err != nil {
		return err
	}
	if err := writef(cmdCtx.Out, "open this URL to continue:\n  %s\n", authURL); err != nil {
		return err
	}

	var cb oauthCallback
	select {
	case cb = <-callbacks:
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "waiting for oauth callback")
	}
	if cb.err != nil {
		return cb.err
	}

	snap, err := console.Sessions.CompleteOAuth(ctx, cb.code, cb.state)
	if err != nil {
		return err
	}
	if err := writef(cmdCtx.Out, "signed in as %s\n", snap.User().Email); err != nil {
		return err
	}
	if err := settle(cmdCtx, console); err != nil {
		cmdCtx.Logger.WarnContext(cmdCtx.Ctx, "tenant resolution did not settle", "error", err)
	}
	return printDecision(cmdCtx.Out, console.Gate.Decision())
}

// listenForCallback serves the redirect path on its loopback address and delivers the first
// callback to out.
func listenForCallback(redirect *url.URL, out chan<- oauthCallback) (*http.Server, error) {
	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("listen for oauth callback on %s: %w", redirect.Host, err)
	}
	path := redirect.Path
	if path == "" {
		path = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cb := oauthCallback{code: q.Get("code"), state: q.Get("state")}
		if e := q.Get("error"); e != "" {
			cb.err = apperrors.InvalidCredentials(strings.TrimSpace(e + ": " + q.Get("error_description")))
		}
		select {
		case out <- cb:
		default:
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if cb.err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, "Sign-in failed. Return to the terminal for details.\n")
			return
		}
		_, _ = io.WriteString(w, "Signed in. You can close this window.\n")
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
