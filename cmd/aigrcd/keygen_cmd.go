package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/aigrc/pipeline/pkg/crypto"
)

// runKeygenCmd implements `aigrcd keygen`.
//
// Generates a fresh signing master secret for SIGNING_MASTER_KEY. With
// --org it also prints the derived per-org producer key, which is what
// a producer holding no master secret would be provisioned with.
func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		orgID      string
		jsonOutput bool
	)
	cmd.StringVar(&orgID, "org", "", "Also derive and print this org's producer key")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON to stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	secret, err := crypto.GenerateMasterSecret(rand.Reader)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	out := struct {
		MasterSecret string `json:"masterSecret"`
		OrgID        string `json:"orgId,omitempty"`
		OrgKey       string `json:"orgKey,omitempty"`
	}{MasterSecret: secret}

	if orgID != "" {
		master, err := hex.DecodeString(secret)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		key, err := crypto.DeriveOrgKey(master, orgID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		out.OrgID = orgID
		out.OrgKey = hex.EncodeToString(key)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "SIGNING_MASTER_KEY=%s\n", out.MasterSecret)
	if out.OrgKey != "" {
		_, _ = fmt.Fprintf(stdout, "# derived producer key for %s\n%s\n", out.OrgID, out.OrgKey)
	}
	return 0
}
