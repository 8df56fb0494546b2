package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aigrc/pipeline/pkg/auth"
)

// runTokenCmd implements `aigrcd token`.
//
// Issues an HS256 service token against SERVICE_TOKEN_SECRET (or
// --secret), for producers that authenticate without a static API key.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		orgID   string
		subject string
		ttl     time.Duration
		secret  string
	)
	cmd.StringVar(&orgID, "org", "", "Organization the token is scoped to (REQUIRED)")
	cmd.StringVar(&subject, "subject", "ingest", "Token subject, e.g. the CI job name")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.StringVar(&secret, "secret", "", "Signing secret; defaults to SERVICE_TOKEN_SECRET")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if orgID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --org is required")
		return 2
	}
	if secret == "" {
		secret = os.Getenv("SERVICE_TOKEN_SECRET")
	}
	if secret == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --secret or SERVICE_TOKEN_SECRET is required")
		return 2
	}

	token, err := auth.IssueServiceToken([]byte(secret), orgID, subject, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
