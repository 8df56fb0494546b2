package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aigrc/pipeline/pkg/auth"
	"github.com/aigrc/pipeline/pkg/crypto"
	"github.com/aigrc/pipeline/pkg/events"
	"github.com/aigrc/pipeline/pkg/goldenthread"
)

// buildEventFile writes a freshly built event to a temp file, applying
// mutate to the raw envelope first when given.
func buildEventFile(t *testing.T, signer events.Signer, mutate func(map[string]any)) string {
	t.Helper()

	b, err := events.NewBuilder(events.BuilderConfig{
		Source: events.Source{Tool: "aigrc-scanner", ToolVersion: "1.0.0", OrgID: "org-a"},
		Signer: signer,
	})
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	thread := events.Linked("jira", "GOV-42", "https://jira.example.com/GOV-42", "active")
	ev, err := b.Asset(events.TypeAssetRegistered, "model-7", thread, map[string]any{"name": "fraud-model"})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if mutate != nil {
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		mutate(raw)
		if data, err = json.Marshal(raw); err != nil {
			t.Fatalf("remarshal: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write event file: %v", err)
	}
	return path
}

func TestRunDefaultsToServer(t *testing.T) {
	orig := startServer
	defer func() { startServer = orig }()

	calls := 0
	startServer = func(stdout, stderr io.Writer) int {
		calls++
		return 0
	}

	var out, errOut bytes.Buffer
	for _, args := range [][]string{
		{"aigrcd"},
		{"aigrcd", "serve"},
		{"aigrcd", "server"},
		{"aigrcd", "--some-flag"},
	} {
		if code := Run(args, &out, &errOut); code != 0 {
			t.Errorf("Run(%v) = %d, want 0", args, code)
		}
	}
	if calls != 4 {
		t.Errorf("startServer calls = %d, want 4", calls)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"aigrcd", "bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "Unknown command: bogus") {
		t.Errorf("stderr = %q, want unknown command notice", errOut.String())
	}
}

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"aigrcd", "version"}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "aigrcd "+version) {
		t.Errorf("stdout = %q, want version line", out.String())
	}
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"aigrcd", "help"}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	for _, want := range []string{"USAGE", "serve", "verify", "keygen"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("usage output missing %q", want)
		}
	}
}

func TestVerifyCmdRequiresFile(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := runVerifyCmd(nil, &out, &errOut); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "--file is required") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestVerifyCmdUnreadableFile(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runVerifyCmd([]string{"-file", filepath.Join(t.TempDir(), "absent.json")}, &out, &errOut)
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}

func TestVerifyCmdValidEvent(t *testing.T) {
	path := buildEventFile(t, nil, nil)

	var out, errOut bytes.Buffer
	code := runVerifyCmd([]string{"-file", path}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit = %d, want 0\nstdout: %s\nstderr: %s", code, out.String(), errOut.String())
	}
	if !strings.Contains(out.String(), "PASSED") {
		t.Errorf("stdout = %q, want PASSED", out.String())
	}
}

func TestVerifyCmdJSONReport(t *testing.T) {
	path := buildEventFile(t, nil, nil)

	var out, errOut bytes.Buffer
	if code := runVerifyCmd([]string{"-file", path, "-json"}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, want 0, stderr: %s", code, errOut.String())
	}

	var report verifyReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("report decode: %v", err)
	}
	if !report.Verified {
		t.Error("report not verified")
	}
	if report.OrgID != "org-a" {
		t.Errorf("orgId = %q, want org-a", report.OrgID)
	}
	if report.EventID == "" || report.Hash == "" {
		t.Errorf("report missing identity: %+v", report)
	}
	if len(report.Checks) == 0 {
		t.Error("report has no checks")
	}
}

func TestVerifyCmdTamperedEvent(t *testing.T) {
	path := buildEventFile(t, nil, func(raw map[string]any) {
		raw["data"] = map[string]any{"name": "tampered"}
	})

	var out, errOut bytes.Buffer
	if code := runVerifyCmd([]string{"-file", path}, &out, &errOut); code != 1 {
		t.Fatalf("exit = %d, want 1\nstdout: %s", code, out.String())
	}
	if !strings.Contains(out.String(), "EVT_HASH_INVALID") {
		t.Errorf("stdout = %q, want EVT_HASH_INVALID", out.String())
	}
}

func TestVerifyCmdAcceptsStoredEvents(t *testing.T) {
	// An event fetched back from the server carries receivedAt; the
	// verifier strips it and still checks the producer's body.
	path := buildEventFile(t, nil, func(raw map[string]any) {
		raw["receivedAt"] = "2026-08-25T12:00:00Z"
	})

	var out, errOut bytes.Buffer
	if code := runVerifyCmd([]string{"-file", path}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, want 0\nstdout: %s", code, out.String())
	}
}

func TestVerifyCmdMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	if code := runVerifyCmd([]string{"-file", path, "-json"}, &out, &errOut); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(out.String(), string(events.CodeIDInvalid)) {
		t.Errorf("stdout = %q, want %s", out.String(), events.CodeIDInvalid)
	}
}

func TestVerifyCmdSignature(t *testing.T) {
	masterHex := strings.Repeat("ab", 32)
	master, err := hex.DecodeString(masterHex)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := crypto.NewHMACSigner(master, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	path := buildEventFile(t, signer, nil)

	var out, errOut bytes.Buffer
	if code := runVerifyCmd([]string{"-file", path, "-master-key", masterHex}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, want 0\nstdout: %s\nstderr: %s", code, out.String(), errOut.String())
	}

	out.Reset()
	errOut.Reset()
	wrongKey := strings.Repeat("cd", 32)
	if code := runVerifyCmd([]string{"-file", path, "-master-key", wrongKey}, &out, &errOut); code != 1 {
		t.Fatalf("exit = %d, want 1\nstdout: %s", code, out.String())
	}
	if !strings.Contains(out.String(), "EVT_SIGNATURE_INVALID") {
		t.Errorf("stdout = %q, want EVT_SIGNATURE_INVALID", out.String())
	}
}

func TestKeygenCmd(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := runKeygenCmd(nil, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}

	line := strings.TrimSpace(out.String())
	secret, found := strings.CutPrefix(line, "SIGNING_MASTER_KEY=")
	if !found {
		t.Fatalf("output = %q, want SIGNING_MASTER_KEY= line", line)
	}
	raw, err := hex.DecodeString(secret)
	if err != nil || len(raw) != 32 {
		t.Errorf("secret %q is not 32 hex bytes (err %v)", secret, err)
	}
}

func TestKeygenCmdDerivesOrgKey(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := runKeygenCmd([]string{"-org", "org-a", "-json"}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}

	var got struct {
		MasterSecret string `json:"masterSecret"`
		OrgID        string `json:"orgId"`
		OrgKey       string `json:"orgKey"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OrgID != "org-a" {
		t.Errorf("orgId = %q", got.OrgID)
	}

	master, err := hex.DecodeString(got.MasterSecret)
	if err != nil {
		t.Fatal(err)
	}
	want, err := crypto.DeriveOrgKey(master, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if got.OrgKey != hex.EncodeToString(want) {
		t.Errorf("orgKey does not match the derivation from the printed master secret")
	}
}

func TestTokenCmdRequiresOrg(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := runTokenCmd([]string{"-secret", "sekrit"}, &out, &errOut); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}

func TestTokenCmdRequiresSecret(t *testing.T) {
	t.Setenv("SERVICE_TOKEN_SECRET", "")
	var out, errOut bytes.Buffer
	if code := runTokenCmd([]string{"-org", "org-a"}, &out, &errOut); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}

func TestTokenCmdIssuesValidToken(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runTokenCmd([]string{"-org", "org-a", "-subject", "ci", "-ttl", "30m", "-secret", "sekrit"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit = %d, want 0, stderr: %s", code, errOut.String())
	}

	token := strings.TrimSpace(out.String())
	p, err := auth.NewTokenValidator([]byte("sekrit")).Validate(token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if p.OrgID != "org-a" || p.ID != "ci" {
		t.Errorf("principal = %+v, want org-a/ci", p)
	}
}

func TestThreadCmdHashVector(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runThreadCmd([]string{
		"-ticket", "FIN-1234",
		"-approved-by", "ciso@corp.com",
		"-approved-at", "2025-01-15T10:30:00Z",
	}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit = %d, want 0, stderr: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "approved_at=2025-01-15T10:30:00Z|approved_by=ciso@corp.com|ticket_id=FIN-1234") {
		t.Errorf("stdout missing canonical string: %q", out.String())
	}
	if !strings.Contains(out.String(), "sha256:bb085280036c278a6478b90f67d09cfcb6bcc7484d13229d7eba509bdb4685f7") {
		t.Errorf("stdout missing expected hash: %q", out.String())
	}
}

func TestThreadCmdRequiresComponents(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := runThreadCmd([]string{"-ticket", "FIN-1234"}, &out, &errOut); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}

func TestThreadCmdVerifiesSignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	c := goldenthread.Components{
		TicketID:   "FIN-1234",
		ApprovedBy: "ciso@corp.com",
		ApprovedAt: time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
	}
	sig, err := goldenthread.SignECDSA(priv, c)
	if err != nil {
		t.Fatal(err)
	}

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(t.TempDir(), "approver.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if err := os.WriteFile(keyPath, pemBytes, 0o600); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	code := runThreadCmd([]string{
		"-ticket", "FIN-1234",
		"-approved-by", "ciso@corp.com",
		"-approved-at", "2025-01-15T10:30:00Z",
		"-pubkey", keyPath,
		"-signature", sig,
	}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit = %d, want 0\nstdout: %s\nstderr: %s", code, out.String(), errOut.String())
	}
	if !strings.Contains(out.String(), "VERIFIED") {
		t.Errorf("stdout = %q, want VERIFIED", out.String())
	}

	// The same signature over a different ticket must fail.
	out.Reset()
	errOut.Reset()
	code = runThreadCmd([]string{
		"-ticket", "FIN-9999",
		"-approved-by", "ciso@corp.com",
		"-approved-at", "2025-01-15T10:30:00Z",
		"-pubkey", keyPath,
		"-signature", sig,
	}, &out, &errOut)
	if code != 1 {
		t.Fatalf("exit = %d, want 1\nstdout: %s", code, out.String())
	}
	if !strings.Contains(out.String(), "INVALID") {
		t.Errorf("stdout = %q, want INVALID", out.String())
	}
}
