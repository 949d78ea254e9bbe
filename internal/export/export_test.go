package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/xuri/excelize/v2"
	"gocloud.dev/blob"

	"github.com/JonMunkholm/scansplit/internal/report"
)

func writeBucket(t *testing.T, dir string, b report.Bucket, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, b.FileName()), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", b, err)
	}
}

func TestWriteZip(t *testing.T) {
	dir := t.TempDir()
	writeBucket(t, dir, report.T1Normal, "IP,Cliente\n10.0.0.1,ACME\n")
	writeBucket(t, dir, report.T2Adjusted, "IP,Cliente\n10.0.0.2,ACME\n")

	var buf bytes.Buffer
	n, err := WriteZip(&buf, dir)
	if err != nil {
		t.Fatalf("WriteZip failed: %v", err)
	}
	if n != 2 {
		t.Errorf("files = %d, want 2", n)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.Name == report.T1Normal.FileName() {
			rc, _ := f.Open()
			data, _ := io.ReadAll(rc)
			rc.Close()
			if string(data) != "IP,Cliente\n10.0.0.1,ACME\n" {
				t.Errorf("content = %q", data)
			}
		}
	}
	want := []string{report.T1Normal.FileName(), report.T2Adjusted.FileName()}
	if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestWriteZipNoResults(t *testing.T) {
	if _, err := WriteZip(io.Discard, t.TempDir()); !errors.Is(err, ErrNoResults) {
		t.Errorf("error = %v, want ErrNoResults", err)
	}
}

func TestWriteWorkbook(t *testing.T) {
	dir := t.TempDir()
	writeBucket(t, dir, report.T1Normal, "IP,QID,Cliente\n10.0.0.1,100,ACME\n10.0.0.2,200,ACME\n")
	writeBucket(t, dir, report.T2Normal, "Host IP,Status,Cliente\n10.0.0.3,Passed,ACME\n")

	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, dir); err != nil {
		t.Fatalf("WriteWorkbook failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "t1_normal" || sheets[1] != "t2_normal" {
		t.Fatalf("sheets = %v", sheets)
	}

	rows, err := f.GetRows("t1_normal")
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "IP" || rows[2][1] != "200" {
		t.Errorf("rows = %v", rows)
	}
}

func TestWriteWorkbookSplitsSheets(t *testing.T) {
	dir := t.TempDir()
	writeBucket(t, dir, report.T1Adjusted, "IP\n1\n2\n3\n4\n5\n")

	var buf bytes.Buffer
	if err := writeWorkbook(&buf, dir, 3); err != nil {
		t.Fatalf("writeWorkbook failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	want := []string{"t1_ajustada", "t1_ajustada_2", "t1_ajustada_3"}
	if len(sheets) != len(want) {
		t.Fatalf("sheets = %v, want %v", sheets, want)
	}
	for i := range want {
		if sheets[i] != want[i] {
			t.Errorf("sheet %d = %q, want %q", i, sheets[i], want[i])
		}
	}

	rows, _ := f.GetRows("t1_ajustada_3")
	if len(rows) != 2 || rows[0][0] != "IP" || rows[1][0] != "5" {
		t.Errorf("last sheet rows = %v", rows)
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	writeBucket(t, out, report.T1Normal, "IP,Cliente\n10.0.0.1,ACME\n")
	writeBucket(t, out, report.T2Normal, "Host IP,Cliente\n10.0.0.2,ACME\n")

	store := t.TempDir()
	pub, err := OpenPublisher(ctx, "file://"+filepath.ToSlash(store), "/runs/")
	if err != nil {
		t.Fatalf("OpenPublisher failed: %v", err)
	}
	defer pub.Close()

	keys, err := pub.Publish(ctx, "abc", out)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	sort.Strings(keys)
	want := []string{"runs/abc/t1_normal.csv", "runs/abc/t2_normal.csv"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("keys = %v, want %v", keys, want)
	}

	bucket, err := blob.OpenBucket(ctx, "file://"+filepath.ToSlash(store))
	if err != nil {
		t.Fatalf("reopen bucket: %v", err)
	}
	defer bucket.Close()

	data, err := bucket.ReadAll(ctx, want[0])
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "IP,Cliente\n10.0.0.1,ACME\n" {
		t.Errorf("object = %q", data)
	}
}

func TestPublishDisabled(t *testing.T) {
	pub, err := OpenPublisher(context.Background(), "", "")
	if err != nil {
		t.Fatalf("OpenPublisher failed: %v", err)
	}
	if _, err := pub.Publish(context.Background(), "abc", t.TempDir()); !errors.Is(err, ErrPublishDisabled) {
		t.Errorf("error = %v, want ErrPublishDisabled", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close on nil publisher: %v", err)
	}
}

func TestHasResults(t *testing.T) {
	dir := t.TempDir()
	if ok, err := HasResults(dir); ok || err != nil {
		t.Errorf("empty dir: HasResults = %v, %v", ok, err)
	}
	writeBucket(t, dir, report.T2Normal, "IP\n")
	if ok, err := HasResults(dir); !ok || err != nil {
		t.Errorf("HasResults = %v, %v, want true", ok, err)
	}
}
