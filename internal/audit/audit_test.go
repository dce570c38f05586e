package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func rec(user string, decision Decision, subject string) Record {
	return Record{
		EnvelopeID: uuid.New(),
		UserID:     user,
		Channel:    "cli",
		Decision:   decision,
		Subject:    subject,
	}
}

func TestQueriesNewestFirst(t *testing.T) {
	l := NewLogger(nil)
	defer l.Close()

	l.Append(rec("u1", DecisionAllow, "message"))
	l.Append(rec("u1", DecisionDeny, "shell_exec"))
	l.Append(rec("u2", DecisionAllow, "current_time"))

	last := l.Last(2)
	if len(last) != 2 {
		t.Fatalf("last = %d records", len(last))
	}
	if last[0].Subject != "current_time" || last[1].Subject != "shell_exec" {
		t.Errorf("order wrong: %s, %s", last[0].Subject, last[1].Subject)
	}

	denied := l.LastDenied(10)
	if len(denied) != 1 || denied[0].Subject != "shell_exec" {
		t.Errorf("denied = %+v", denied)
	}

	forU1 := l.ForUser("u1", 10)
	if len(forU1) != 2 {
		t.Errorf("u1 records = %d", len(forU1))
	}
}

func TestRingWrapsWithoutLosingRecent(t *testing.T) {
	l := NewLogger(nil)
	defer l.Close()

	for i := 0; i < defaultRingSize+10; i++ {
		l.Append(rec("u", DecisionAllow, "message"))
	}
	if got := len(l.Last(defaultRingSize * 2)); got != defaultRingSize {
		t.Errorf("ring holds %d records, want %d", got, defaultRingSize)
	}
}

func TestFileSinkWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}

	l := NewLogger(sink)
	l.Append(rec("u1", DecisionDeny, "shell_exec"))
	l.Append(rec("u1", DecisionAllow, "message"))
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, r)
	}
	if len(lines) != 2 {
		t.Fatalf("file holds %d records", len(lines))
	}
	if lines[0].Decision != DecisionDeny || lines[0].Subject != "shell_exec" {
		t.Errorf("first line = %+v", lines[0])
	}
	if lines[0].Time.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestTimestampPreserved(t *testing.T) {
	l := NewLogger(nil)
	defer l.Close()

	fixed := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	r := rec("u", DecisionAllow, "message")
	r.Time = fixed
	l.Append(r)

	if got := l.Last(1)[0].Time; !got.Equal(fixed) {
		t.Errorf("time = %v", got)
	}
}
