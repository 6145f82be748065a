package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/target/agentops-console/internal/bootstrap"
	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	apperrors "github.com/target/agentops-console/internal/errors"
)

// openTenant opens the console and waits for the tenant to settle. It fails when the session
// is not fully authenticated.
func openTenant(cmdCtx *commandContext) (*bootstrap.Console, error) {
	console, err := openConsole(cmdCtx)
	if err != nil {
		return nil, err
	}
	snap := console.Sessions.Snapshot()
	if !snap.Authenticated() {
		closeConsole(cmdCtx, console)
		if snap.Assurance.StepUpRequired() {
			return nil, apperrors.MFARequired("verify a second factor with mfa-verify first")
		}
		return nil, apperrors.ExpiredSession("not signed in; run signin first")
	}
	if err := settle(cmdCtx, console); err != nil {
		closeConsole(cmdCtx, console)
		return nil, err
	}
	return console, nil
}

func runOrgs(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "orgs")
	asJSON := fs.Bool("json", false, "Print organizations and projects as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	console, err := openTenant(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	sel := console.Tenants.Selection()
	if *asJSON {
		enc := json.NewEncoder(cmdCtx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Organizations []domaintenant.Organization `json:"organizations"`
			Projects      []domaintenant.Project      `json:"projects"`
			Organization  string                      `json:"active_organization_id,omitempty"`
			Project       string                      `json:"active_project_id,omitempty"`
		}{sel.Organizations, sel.Projects, sel.OrganizationID(), sel.ProjectID()})
	}
	return printSelection(cmdCtx.Out, sel)
}

func printSelection(w io.Writer, sel domaintenant.Selection) error {
	if len(sel.Organizations) == 0 {
		if err := writeln(w, "(no organizations)"); err != nil {
			return err
		}
		if sel.Err != nil {
			return writef(w, "last error: %v\n", sel.Err)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "\tORGANIZATION\tNAME\tROLE\n"); err != nil {
		return err
	}
	orgs := append([]domaintenant.Organization(nil), sel.Organizations...)
	sort.SliceStable(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	for _, o := range orgs {
		if err := writef(tw, "%s\t%s\t%s\t%s\n", marker(o.ID == sel.OrganizationID()), o.ID, o.Name, o.Role); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if sel.Organization == nil {
		return nil
	}
	if err := writef(w, "\nprojects in %s:\n", sel.Organization.Name); err != nil {
		return err
	}
	if len(sel.Projects) == 0 {
		return writeln(w, "(none)")
	}
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "\tPROJECT\tNAME\n"); err != nil {
		return err
	}
	for _, p := range sel.Projects {
		if err := writef(tw, "%s\t%s\t%s\n", marker(p.ID == sel.ProjectID()), p.ID, p.Name); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func marker(active bool) string {
	if active {
		return "*"
	}
	return ""
}

// targetID reads the id from -id or the first positional argument.
func targetID(cmdCtx *commandContext, name string, args []string) (string, error) {
	fs := newFlagSet(cmdCtx, name)
	id := fs.String("id", "", "Identifier to select")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *id == "" && fs.NArg() > 0 {
		*id = fs.Arg(0)
	}
	if strings.TrimSpace(*id) == "" {
		return "", apperrors.ValidationField("id", "an id is required")
	}
	return strings.TrimSpace(*id), nil
}

func runUseOrg(cmdCtx *commandContext, args []string) error {
	id, err := targetID(cmdCtx, "use-org", args)
	if err != nil {
		return err
	}

	console, err := openTenant(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	sel, err := console.Tenants.SelectOrganization(cmdCtx.Ctx, id)
	if err != nil {
		return err
	}
	return printSelection(cmdCtx.Out, sel)
}

func runUseProject(cmdCtx *commandContext, args []string) error {
	id, err := targetID(cmdCtx, "use-project", args)
	if err != nil {
		return err
	}

	console, err := openTenant(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	sel, err := console.Tenants.SelectProject(cmdCtx.Ctx, id)
	if err != nil {
		return err
	}
	return writef(cmdCtx.Out, "active project: %s (%s)\n", sel.Project.Name, sel.Project.ID)
}

type apiOptions struct {
	Method  string
	Path    string
	Body    []byte
	Include bool
}

func parseAPIFlags(cmdCtx *commandContext, args []string) (apiOptions, error) {
	fs := newFlagSet(cmdCtx, "api")
	opts := apiOptions{}
	var data string
	fs.StringVar(&opts.Method, "X", "", "HTTP method (default GET, or POST when -d is set)")
	fs.StringVar(&data, "d", "", "Request body; @file reads it from a file and @- from stdin")
	fs.BoolVar(&opts.Include, "i", false, "Print the response status line and headers")
	if err := fs.Parse(args); err != nil {
		return apiOptions{}, err
	}
	if fs.NArg() != 1 {
		return apiOptions{}, apperrors.ValidationField("path", "exactly one API path is required, e.g. /me")
	}
	opts.Path = fs.Arg(0)

	switch {
	case data == "":
	case data == "@-":
		raw, err := io.ReadAll(cmdCtx.In)
		if err != nil {
			return apiOptions{}, fmt.Errorf("read body from stdin: %w", err)
		}
		opts.Body = raw
	case strings.HasPrefix(data, "@"):
		raw, err := os.ReadFile(data[1:])
		if err != nil {
			return apiOptions{}, fmt.Errorf("read body: %w", err)
		}
		opts.Body = raw
	default:
		opts.Body = []byte(data)
	}
	if opts.Body != nil && !json.Valid(opts.Body) {
		return apiOptions{}, apperrors.ValidationField("body", "request body must be JSON")
	}

	if opts.Method == "" {
		opts.Method = http.MethodGet
		if opts.Body != nil {
			opts.Method = http.MethodPost
		}
	}
	opts.Method = strings.ToUpper(opts.Method)
	return opts, nil
}

var errAPIStatus = errors.New("api returned an error status")

func runAPI(cmdCtx *commandContext, args []string) error {
	opts, err := parseAPIFlags(cmdCtx, args)
	if err != nil {
		return err
	}

	console, err := openTenant(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	if d := console.Gate.Decision(); !d.Allowed() {
		if err := printDecision(cmdCtx.ErrOut, d); err != nil {
			return err
		}
		return apperrors.TenantNotFound("no active organization and project")
	}

	resp, err := console.API.Do(cmdCtx.Ctx, opts.Method, opts.Path, opts.Body)
	if err != nil {
		return err
	}

	if opts.Include {
		if err := writef(cmdCtx.Out, "HTTP %d %s\n", resp.Status, http.StatusText(resp.Status)); err != nil {
			return err
		}
		if err := resp.Header.Write(cmdCtx.Out); err != nil {
			return err
		}
		if err := writeln(cmdCtx.Out); err != nil {
			return err
		}
	}
	body := resp.Body
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	if _, err := cmdCtx.Out.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		if err := writeln(cmdCtx.Out); err != nil {
			return err
		}
	}
	if resp.Status >= http.StatusBadRequest {
		return fmt.Errorf("%w: HTTP %d", errAPIStatus, resp.Status)
	}
	return nil
}
