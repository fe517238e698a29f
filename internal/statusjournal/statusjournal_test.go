package statusjournal

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "status"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return j
}

func TestCurrentMatchesLastAppend(t *testing.T) {
	j := newTestJournal(t)

	if err := j.Append(Created, "setup"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(Building, "compiling"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	cur, err := j.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.State != Building || cur.Note != "compiling" {
		t.Errorf("Current() = %+v, want state=BUILDING note=compiling", cur)
	}
}

func TestHistoryLastEntryMatchesCurrent(t *testing.T) {
	j := newTestJournal(t)

	for _, r := range []struct {
		state State
		note  string
	}{
		{Created, "setup"},
		{Building, "compiling"},
		{BuildDone, "ok"},
	} {
		if err := j.Append(r.state, r.note); err != nil {
			t.Fatalf("Append(%s): %v", r.state, err)
		}
	}

	hist, err := j.History()
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("History() has %d records, want 3", len(hist))
	}

	cur, err := j.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	last := hist[len(hist)-1]
	if diff := cmp.Diff(cur, last, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("History()[-1] != Current() (-got +want):\n%s", diff)
	}
}

func TestAppendUnrecognizedStateSubstitutesInvalid(t *testing.T) {
	j := newTestJournal(t)

	if err := j.Append(State("BOGUS"), "whoops"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	cur, err := j.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.State != Invalid {
		t.Errorf("State = %s, want INVALID", cur.State)
	}
	if want := "(INVALID) whoops"; cur.Note != want {
		t.Errorf("Note = %q, want %q", cur.Note, want)
	}
}

func TestAppendLongNoteTruncatedWithinPipeBuf(t *testing.T) {
	j := newTestJournal(t)

	long := make([]byte, maxLine*2)
	for i := range long {
		long[i] = 'x'
	}
	if err := j.Append(RunFailed, string(long)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	cur, err := j.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	line := formatLine(cur.When, cur.State, cur.Note)
	if len(line) > maxLine {
		t.Errorf("formatted line is %d bytes, want <= %d", len(line), maxLine)
	}
}

func TestCurrentOnEmptyJournal(t *testing.T) {
	j := newTestJournal(t)

	cur, err := j.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur != (Record{}) {
		t.Errorf("Current() on empty journal = %+v, want zero value", cur)
	}
}

func TestParseLineDegradesMalformedLines(t *testing.T) {
	r := parseLine("not a valid status line")
	if r.State != Unknown {
		t.Errorf("State = %s, want UNKNOWN", r.State)
	}
}
