package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector(nil)
	rec := c.Start("main.yaml", KindTest)
	if rec.Status != StatusRunning {
		t.Fatalf("status = %q, want running", rec.Status)
	}

	step := map[string]any{"echo": "hi"}
	rec.StepBegin(step, map[string]any{"a": 1})
	rec.StepEnd(step, map[string]any{"a": 1}, true, "hi")
	c.Finish(rec, StatusOK, "")

	records := c.Records()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	got := records[0]
	if got.Status != StatusOK {
		t.Errorf("status = %q", got.Status)
	}
	if len(got.Output) != 2 {
		t.Fatalf("events = %d, want 2", len(got.Output))
	}
	if got.Output[0].Success != nil {
		t.Error("begin event must not carry success")
	}
	if got.Output[1].Success == nil || !*got.Output[1].Success {
		t.Error("end event must be successful")
	}
	if got.EndTime.Before(got.StartTime) {
		t.Error("end before start")
	}
}

func TestNilRecord(t *testing.T) {
	var rec *Record
	rec.StepBegin(nil, nil)
	rec.StepEnd(nil, nil, false, nil)
	Nop{}.Finish(Nop{}.Start("x", KindTest), StatusOK, "")
	if FromContext(context.Background()) != nil {
		t.Error("expected no record in an empty context")
	}
}

func TestWithRecord(t *testing.T) {
	rec := NewCollector(nil).Start("a", KindInclude)
	ctx := WithRecord(context.Background(), rec)
	if FromContext(ctx) != rec {
		t.Error("record not found in context")
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := c.Start("t", KindTest)
			rec.StepBegin(map[string]any{"wait": 0}, nil)
			c.Finish(rec, StatusOK, "")
		}()
	}
	wg.Wait()
	if n := len(c.Records()); n != 20 {
		t.Errorf("records = %d, want 20", n)
	}
}

func TestSecrets(t *testing.T) {
	s := NewSecrets("password")
	masked := s.Mask(map[string]any{"password": "hunter2", "user": "bob"})
	if masked["password"] != Redacted {
		t.Errorf("password = %v", masked["password"])
	}
	if masked["user"] != "bob" {
		t.Errorf("user = %v", masked["user"])
	}
	if got := s.Redact("login bob:hunter2"); got != "login bob:"+Redacted {
		t.Errorf("Redact = %q", got)
	}

	var none *Secrets
	if got := none.Redact("hunter2"); got != "hunter2" {
		t.Errorf("nil secrets changed %q", got)
	}
}

func TestRecord_RedactsSecrets(t *testing.T) {
	c := NewCollector(NewSecrets("token"))
	rec := c.Start("t", KindTest)
	rec.StepBegin(map[string]any{"echo": "x"}, map[string]any{"token": "abc123"})
	rec.StepEnd(map[string]any{"echo": "x"}, nil, true, "got abc123")
	c.Finish(rec, StatusFail, "bad token abc123")

	if rec.Output[0].Variables["token"] != Redacted {
		t.Errorf("variables not masked: %v", rec.Output[0].Variables)
	}
	if rec.Output[1].Output != "got "+Redacted {
		t.Errorf("output = %v", rec.Output[1].Output)
	}
	if strings.Contains(rec.Comment, "abc123") {
		t.Errorf("comment = %q", rec.Comment)
	}
}

func TestWriteJSON(t *testing.T) {
	c := NewCollector(nil)
	rec := c.Start("main.yaml", KindTest)
	rec.StepEnd(map[string]any{"echo": "x"}, nil, false, "boom")
	c.Finish(rec, StatusFail, "boom")

	var buf bytes.Buffer
	if err := WriteJSON(&buf, c.Records()); err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("JSON unmarshal: %v (raw: %s)", err, buf.String())
	}
	if decoded[0]["file"] != "main.yaml" || decoded[0]["type"] != "test" || decoded[0]["status"] != "FAIL" {
		t.Errorf("unexpected record %v", decoded[0])
	}
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(nil)
	c.Finish(c.Start("main.yaml", KindTest), StatusOK, "")

	path, err := WriteReport(filepath.Join(dir, "reports"), FormatHTML, c.Records())
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "main.yaml") {
		t.Error("html report misses the test file")
	}

	path, err = WriteReport(dir, FormatNone, nil)
	if err != nil || path != "" {
		t.Errorf("none format wrote %q, %v", path, err)
	}
	if _, err := WriteReport(dir, "xml", nil); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
