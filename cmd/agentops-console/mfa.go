package main

import (
	"os"
	"strings"
	"text/tabwriter"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	apperrors "github.com/target/agentops-console/internal/errors"
)

func runMFAEnroll(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "mfa-enroll")
	name := fs.String("name", "", "Friendly name for the authenticator")
	qrFile := fs.String("qr-file", "", "Write the provider's QR rendering to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	enrollment, err := console.Sessions.EnrollMFA(cmdCtx.Ctx, *name)
	if err != nil {
		return err
	}
	if err := writef(cmdCtx.Out, "factor: %s\nsecret: %s\nuri: %s\n", enrollment.FactorID, enrollment.Secret, enrollment.URI); err != nil {
		return err
	}
	if *qrFile != "" && enrollment.QRCode != "" {
		if err := os.WriteFile(*qrFile, []byte(enrollment.QRCode), 0o600); err != nil {
			return err
		}
	}
	return writef(cmdCtx.Out, "add the secret to an authenticator, then run `agentops-console mfa-verify -factor %s -code <code>`\n", enrollment.FactorID)
}

func runMFAVerify(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "mfa-verify")
	factorID := fs.String("factor", "", "Factor id; defaults to the factor the session is waiting on")
	code := fs.String("code", "", "Six-digit code from the authenticator")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*code) == "" {
		return apperrors.ValidationField("code", "-code is required")
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	id := *factorID
	if id == "" {
		factors, err := console.Sessions.ListMFAFactors(cmdCtx.Ctx)
		if err != nil {
			return err
		}
		var ok bool
		if id, ok = chooseFactor(factors, console.Sessions.AssuranceLevel().StepUpRequired()); !ok {
			return apperrors.ValidationField("factor_id", "no TOTP factor to verify; run mfa-enroll first")
		}
	}

	snap, err := console.Sessions.VerifyMFA(cmdCtx.Ctx, id, *code)
	if err != nil {
		return err
	}
	if err := writef(cmdCtx.Out, "verified; session is %s\n", snap.Assurance.Current); err != nil {
		return err
	}
	if err := settle(cmdCtx, console); err != nil {
		cmdCtx.Logger.WarnContext(cmdCtx.Ctx, "tenant resolution did not settle", "error", err)
	}
	return printDecision(cmdCtx.Out, console.Gate.Decision())
}

// chooseFactor picks a verified factor for a pending step-up, and otherwise the newest
// unverified one so a fresh enrollment can be confirmed.
func chooseFactor(factors []domainauth.Factor, stepUp bool) (string, bool) {
	want := domainauth.FactorUnverified
	if stepUp {
		want = domainauth.FactorVerified
	}
	for i := len(factors) - 1; i >= 0; i-- {
		f := factors[i]
		if f.Type == domainauth.FactorTypeTOTP && f.Status == want {
			return f.ID, true
		}
	}
	return "", false
}

func runMFAUnenroll(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "mfa-unenroll")
	factorID := fs.String("factor", "", "Factor id to remove")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *factorID == "" {
		return apperrors.ValidationField("factor_id", "-factor is required")
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	if err := console.Sessions.UnenrollMFA(cmdCtx.Ctx, *factorID); err != nil {
		return err
	}
	return writef(cmdCtx.Out, "removed factor %s\n", *factorID)
}

func runMFAList(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "mfa-list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	factors, err := console.Sessions.ListMFAFactors(cmdCtx.Ctx)
	if err != nil {
		return err
	}
	if len(factors) == 0 {
		return writeln(cmdCtx.Out, "(no factors enrolled)")
	}

	tw := tabwriter.NewWriter(cmdCtx.Out, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ID\tNAME\tTYPE\tSTATUS\n"); err != nil {
		return err
	}
	for _, f := range factors {
		if err := writef(tw, "%s\t%s\t%s\t%s\n", f.ID, f.FriendlyName, f.Type, f.Status); err != nil {
			return err
		}
	}
	return tw.Flush()
}
