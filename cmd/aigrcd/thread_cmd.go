package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aigrc/pipeline/pkg/goldenthread"
)

// runThreadCmd implements `aigrcd thread`.
//
// Recomputes the golden-thread approval hash from its components, and
// verifies an approval signature when --pubkey and --signature are
// given. Works fully offline.
//
// Exit codes:
//
//	0 = hash printed / signature verified
//	1 = signature verification failed
//	2 = runtime error
func runThreadCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("thread", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ticket     string
		approvedBy string
		approvedAt string
		pubkeyFile string
		signature  string
		jsonOutput bool
	)

	cmd.StringVar(&ticket, "ticket", "", "Approval ticket reference, e.g. FIN-1234 (REQUIRED)")
	cmd.StringVar(&approvedBy, "approved-by", "", "Approver identity (REQUIRED)")
	cmd.StringVar(&approvedAt, "approved-at", "", "Approval time, RFC 3339 (REQUIRED)")
	cmd.StringVar(&pubkeyFile, "pubkey", "", "PEM or JWK public key file; verifies --signature")
	cmd.StringVar(&signature, "signature", "", "Approval signature {ALG}:{BASE64}")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON to stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if ticket == "" || approvedBy == "" || approvedAt == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --ticket, --approved-by and --approved-at are required")
		return 2
	}
	at, err := time.Parse(time.RFC3339, approvedAt)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --approved-at must be RFC 3339: %v\n", err)
		return 2
	}

	c := goldenthread.Components{TicketID: ticket, ApprovedBy: approvedBy, ApprovedAt: at}
	out := struct {
		Canonical string `json:"canonical"`
		Hash      string `json:"hash"`
		Signature string `json:"signature,omitempty"`
		Verified  *bool  `json:"verified,omitempty"`
	}{
		Canonical: goldenthread.CanonicalString(c),
		Hash:      goldenthread.Hash(c),
	}

	var verifyErr error
	if signature != "" {
		if pubkeyFile == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --signature requires --pubkey")
			return 2
		}
		keyData, err := os.ReadFile(pubkeyFile)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot read public key: %v\n", err)
			return 2
		}
		pub, err := goldenthread.ParsePublicKey(keyData)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		verifyErr = goldenthread.VerifySignature(pub, c, signature)
		out.Signature = signature
		ok := verifyErr == nil
		out.Verified = &ok
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Canonical: %s\n", out.Canonical)
		_, _ = fmt.Fprintf(stdout, "Hash: %s\n", out.Hash)
		if out.Verified != nil {
			if *out.Verified {
				_, _ = fmt.Fprintln(stdout, "✅ approval signature VERIFIED")
			} else {
				_, _ = fmt.Fprintf(stdout, "❌ approval signature INVALID: %v\n", verifyErr)
			}
		}
	}

	if verifyErr != nil {
		return 1
	}
	return 0
}
