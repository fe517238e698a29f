// Package statusjournal implements the append-only per-test status log.
//
// Each line is written with a single os.File.Write so that, as long as the
// line stays within PIPE_BUF, concurrent appenders on POSIX never interleave
// partial lines. This is the load-bearing invariant of the whole package;
// everything else (truncation, the closed state set, parse leniency) exists
// to keep that single write within bounds.
package statusjournal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/not-pflarr/Pavilion/internal/logging"
	"github.com/not-pflarr/Pavilion/internal/perrors"
)

// State is one of the closed set of recognized status states.
type State string

const (
	Unknown     State = "UNKNOWN"
	Invalid     State = "INVALID"
	Created     State = "CREATED"
	Building    State = "BUILDING"
	BuildFailed State = "BUILD_FAILED"
	BuildError  State = "BUILD_ERROR"
	BuildDone   State = "BUILD_DONE"
	Running     State = "RUNNING"
	RunFailed   State = "RUN_FAILED"
	RunError    State = "RUN_ERROR"
	RunDone     State = "RUN_DONE"
	Results     State = "RESULTS"
	Complete    State = "COMPLETE"
	Scheduled   State = "SCHEDULED"
	Waiting     State = "WAITING"
	Failed      State = "FAILED"
)

var recognized = map[State]bool{
	Unknown: true, Invalid: true, Created: true, Building: true,
	BuildFailed: true, BuildError: true, BuildDone: true, Running: true,
	RunFailed: true, RunError: true, RunDone: true, Results: true,
	Complete: true, Scheduled: true, Waiting: true, Failed: true,
}

const (
	// maxLine is PIPE_BUF on every POSIX system Pavilion targets.
	maxLine = 4096

	// tailRead is the window current() reads from the journal's end: one
	// maxLine record plus 16 bytes, so the final line is read whole even
	// at the size bound.
	tailRead = 4112

	timeLayout = "2006-01-02T15:04:05.000000-0700"
)

// Record is one parsed line of the journal.
type Record struct {
	When  time.Time
	State State
	Note  string
}

// Journal is an append-only log of Records at a fixed path.
type Journal struct {
	path string
}

// Open returns a Journal bound to path. The file is created if absent.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, perrors.Wrapf(perrors.StatusIO, err, "open status journal %q", path)
	}
	f.Close()
	return &Journal{path: path}, nil
}

// Append formats one line and appends it in a single write. If state is not
// in the recognized set, per spec it is substituted with Invalid and the
// offending name is folded into the note — using the *substituted* state,
// which yields a note of the form "(INVALID) <original note>" rather than
// "(<offending name>) <original note>". This mirrors a quirk in the
// reference implementation: it composes the note after reassigning state.
func (j *Journal) Append(state State, note string) error {
	effective := state
	if !recognized[state] {
		effective = Invalid
		note = fmt.Sprintf("(%s) %s", effective, note)
	}

	line := formatLine(time.Now(), effective, note)
	if len(line) > maxLine {
		line = formatLine(time.Now(), effective, truncateNote(note, maxLine-lineOverhead(effective)))
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return perrors.Wrapf(perrors.StatusIO, err, "open status journal %q for append", j.path)
	}
	defer f.Close()

	if _, err := f.Write([]byte(line)); err != nil {
		return perrors.Wrapf(perrors.StatusIO, err, "append to status journal %q", j.path)
	}
	return nil
}

func lineOverhead(state State) int {
	// len(timestamp) + space + len(state) + space + newline
	return len(timeLayout) + 2 + len(state) + 1
}

func truncateNote(note string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(note) <= max {
		return note
	}
	// Walk backward from max to the nearest rune boundary.
	for max > 0 && !utf8.RuneStart(note[max]) {
		max--
	}
	return note[:max]
}

func formatLine(when time.Time, state State, note string) string {
	note = strings.ReplaceAll(note, "\n", " ")
	return fmt.Sprintf("%s %s %s\n", when.Format(timeLayout), state, note)
}

// Current reads the tail of the journal and parses the final line.
func (j *Journal) Current() (Record, error) {
	data, err := readTail(j.path, tailRead)
	if err != nil {
		return Record{}, perrors.Wrapf(perrors.StatusIO, err, "read status journal %q", j.path)
	}
	lines := splitLines(data)
	if len(lines) == 0 {
		return Record{}, nil
	}
	return parseLine(lines[len(lines)-1]), nil
}

// History reads and parses the entire journal.
func (j *Journal) History() ([]Record, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, perrors.Wrapf(perrors.StatusIO, err, "open status journal %q", j.path)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, maxLine), maxLine*2)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		records = append(records, parseLine(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, perrors.Wrapf(perrors.StatusIO, err, "scan status journal %q", j.path)
	}
	return records, nil
}

func readTail(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	offset := int64(0)
	if size > int64(n) {
		offset = size - int64(n)
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, err
	}
	buf := make([]byte, size-offset)
	if _, err := f.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func splitLines(data []byte) []string {
	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return nil
	}
	return strings.Split(string(data), "\n")
}

// parseLine degrades malformed lines to Unknown with a zero timestamp
// instead of failing, per the journal's read-side leniency contract. A
// logging call is the caller's responsibility since parseLine has no ctx.
func parseLine(line string) Record {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return Record{State: Unknown, Note: line}
	}
	when, err := time.Parse(timeLayout, parts[0])
	if err != nil {
		when = time.Time{}
	}
	state := State(parts[1])
	if !recognized[state] {
		state = Unknown
	}
	note := ""
	if len(parts) == 3 {
		note = parts[2]
	}
	return Record{When: when, State: state, Note: note}
}

// LogParseWarning is a convenience for callers that want to surface a
// degraded parse via the ambient logger rather than silently swallow it.
func LogParseWarning(ctx context.Context, path string, line string) {
	logging.Warnf(ctx, "status journal %q: unparsable line %q, treating as UNKNOWN", path, line)
}
