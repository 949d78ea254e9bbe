package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/scansplit/internal/report"
)

const sampleReport = "Scan report\n" +
	"Control Statistics\n" +
	"Name,Value\n" +
	"A,1\n" +
	"B,2\n" +
	"\n" +
	"RESULTS\n" +
	"Host IP,Status\n" +
	"10.0.0.1,Passed\n"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseAndExport(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "scan.csv")
	if err := os.WriteFile(in, []byte(sampleReport), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, "parse", "--quiet", "--out", outDir, "--client", "ACME", in)
	if err != nil {
		t.Fatalf("parse failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 file(s) parsed") {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(outDir, report.T1Normal.FileName()))
	if err != nil {
		t.Fatalf("read bucket: %v", err)
	}
	if !strings.Contains(string(data), "A,1,ACME") {
		t.Errorf("t1_normal = %q", data)
	}

	zipPath := filepath.Join(dir, "results.zip")
	if out, err := execute(t, "export", "--dir", outDir, "--format", "zip", "--output", zipPath); err != nil {
		t.Fatalf("export failed: %v\n%s", err, out)
	}
	if info, err := os.Stat(zipPath); err != nil || info.Size() == 0 {
		t.Errorf("zip not written: %v", err)
	}
}

func TestExport_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, "export", "--dir", dir, "--format", "pdf"); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := execute(t, "export", "--dir", dir, "--format", "zip", "--output", filepath.Join(dir, "r.zip")); err == nil {
		t.Error("expected error for empty directory")
	}
	if _, err := os.Stat(filepath.Join(dir, "r.zip")); !os.IsNotExist(err) {
		t.Error("output file created despite missing results")
	}
}

func TestIngestOptions_Indices(t *testing.T) {
	o := ingestOptions{Indices: map[string]string{"t2_ajustada": "custom"}}
	got, err := o.indices()
	if err != nil {
		t.Fatalf("indices failed: %v", err)
	}
	if got[report.T2Adjusted] != "custom" {
		t.Errorf("indices = %v", got)
	}

	for _, bad := range []map[string]string{{"t3": "x"}, {"t1_normal": "Upper"}} {
		if _, err := (ingestOptions{Indices: bad}).indices(); err == nil {
			t.Errorf("indices(%v): expected error", bad)
		}
	}
}

func TestIngestConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("ES_BASE_URL", "http://env:9200")
	t.Setenv("ES_API_KEY", "envkey")

	cmd := newIngestCmd()
	if err := cmd.ParseFlags([]string{"--es-url", "http://flag:9200", "--insecure"}); err != nil {
		t.Fatal(err)
	}
	o := ingestOptions{URL: "http://flag:9200", Insecure: true}
	ic, err := o.elasticConfig(cmd)
	if err != nil {
		t.Fatalf("elasticConfig failed: %v", err)
	}
	if ic.URL != "http://flag:9200" || ic.APIKey != "envkey" || ic.VerifySSL {
		t.Errorf("config = %+v", ic)
	}
}
