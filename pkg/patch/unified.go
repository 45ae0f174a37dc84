package patch

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HunkLine is a single line of a hunk body: context (' '), deletion ('-') or
// insertion ('+').
type HunkLine struct {
	Op   byte
	Text string
}

// Hunk is one @@ block of a unified diff.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []HunkLine
}

// ParseUnified parses unified diff text into hunks. File headers (---/+++)
// and index lines are tolerated and skipped; the target path comes from the
// tool input, not the patch.
func ParseUnified(patchText string) ([]Hunk, error) {
	lines := strings.Split(patchText, "\n")
	var hunks []Hunk
	var current *Hunk

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			hunk, err := parseHunkHeader(line)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", i+1)
			}
			hunks = append(hunks, hunk)
			current = &hunks[len(hunks)-1]

		case current == nil:
			// Header material before the first hunk.
			continue

		case line == "" && i == len(lines)-1:
			// Trailing newline of the patch text.
			continue

		case strings.HasPrefix(line, "\\"):
			// "\ No newline at end of file"
			continue

		case len(line) > 0 && (line[0] == ' ' || line[0] == '-' || line[0] == '+'):
			current.Lines = append(current.Lines, HunkLine{Op: line[0], Text: line[1:]})

		case line == "":
			// Some generators emit bare empty lines for empty context lines.
			current.Lines = append(current.Lines, HunkLine{Op: ' ', Text: ""})

		default:
			return nil, errors.Errorf("line %d: unexpected patch line %q", i+1, line)
		}
	}

	if len(hunks) == 0 {
		return nil, errors.New("patch contains no hunks")
	}

	return hunks, nil
}

func parseHunkHeader(line string) (Hunk, error) {
	// @@ -oldStart,oldLines +newStart,newLines @@ optional section
	rest := strings.TrimPrefix(line, "@@")
	end := strings.Index(rest, "@@")
	if end < 0 {
		return Hunk{}, errors.Errorf("malformed hunk header %q", line)
	}
	fields := strings.Fields(rest[:end])
	if len(fields) != 2 || !strings.HasPrefix(fields[0], "-") || !strings.HasPrefix(fields[1], "+") {
		return Hunk{}, errors.Errorf("malformed hunk header %q", line)
	}

	oldStart, oldLines, err := parseRange(fields[0][1:])
	if err != nil {
		return Hunk{}, errors.Wrapf(err, "malformed hunk header %q", line)
	}
	newStart, newLines, err := parseRange(fields[1][1:])
	if err != nil {
		return Hunk{}, errors.Wrapf(err, "malformed hunk header %q", line)
	}

	return Hunk{
		OldStart: oldStart,
		OldLines: oldLines,
		NewStart: newStart,
		NewLines: newLines,
	}, nil
}

func parseRange(s string) (int, int, error) {
	start := s
	count := "1"
	if idx := strings.Index(s, ","); idx >= 0 {
		start = s[:idx]
		count = s[idx+1:]
	}
	startN, err := strconv.Atoi(start)
	if err != nil {
		return 0, 0, err
	}
	countN, err := strconv.Atoi(count)
	if err != nil {
		return 0, 0, err
	}
	return startN, countN, nil
}

// ApplyHunks applies parsed hunks to content. maxFuzz is the number of
// context lines that may be dropped from each hunk edge when the hunk does
// not match at full context, the way patch(1) handles slightly shifted
// content. The returned string is the patched content; on any non-matching
// hunk an error is returned and the input is unused.
func ApplyHunks(content string, hunks []Hunk, maxFuzz int) (string, error) {
	lines := strings.Split(content, "\n")
	offset := 0

	for i, hunk := range hunks {
		oldSeq, newSeq := hunkSequences(hunk)

		// A pure insertion has nothing to match. Per patch(1), OldStart names
		// the line the new lines go after (0 means the top of the file).
		if len(oldSeq) == 0 {
			pos := hunk.OldStart + offset
			if pos < 0 {
				pos = 0
			}
			if pos > len(lines) {
				pos = len(lines)
			}
			inserted := make([]string, 0, len(lines)+len(newSeq))
			inserted = append(inserted, lines[:pos]...)
			inserted = append(inserted, newSeq...)
			inserted = append(inserted, lines[pos:]...)
			lines = inserted
			offset += len(newSeq)
			continue
		}

		// Fuzz may only drop genuine context lines, never deletions.
		fuzzCap := maxFuzz
		if lc := leadingContext(hunk); lc < fuzzCap {
			fuzzCap = lc
		}
		if tc := trailingContext(hunk); tc < fuzzCap {
			fuzzCap = tc
		}

		expected := hunk.OldStart - 1 + offset
		pos, fuzz, ok := locateHunk(lines, oldSeq, expected, fuzzCap)
		if !ok {
			return "", errors.Errorf("hunk %d does not match content (expected near line %d)", i+1, hunk.OldStart)
		}

		// Drop the same number of edge context lines from the replacement.
		trimmedOld := oldSeq[fuzz : len(oldSeq)-fuzz]
		trimmedNew := newSeq
		if fuzz > 0 {
			trimmedNew = newSeq[fuzz : len(newSeq)-fuzz]
		}

		replaced := make([]string, 0, len(lines)-len(trimmedOld)+len(trimmedNew))
		replaced = append(replaced, lines[:pos]...)
		replaced = append(replaced, trimmedNew...)
		replaced = append(replaced, lines[pos+len(trimmedOld):]...)
		lines = replaced

		offset += len(trimmedNew) - len(trimmedOld)
	}

	return strings.Join(lines, "\n"), nil
}

func leadingContext(hunk Hunk) int {
	n := 0
	for _, line := range hunk.Lines {
		if line.Op != ' ' {
			break
		}
		n++
	}
	return n
}

func trailingContext(hunk Hunk) int {
	n := 0
	for i := len(hunk.Lines) - 1; i >= 0; i-- {
		if hunk.Lines[i].Op != ' ' {
			break
		}
		n++
	}
	return n
}

// hunkSequences splits a hunk body into the lines expected in the old content
// and the lines present in the new content.
func hunkSequences(hunk Hunk) ([]string, []string) {
	var oldSeq, newSeq []string
	for _, line := range hunk.Lines {
		switch line.Op {
		case ' ':
			oldSeq = append(oldSeq, line.Text)
			newSeq = append(newSeq, line.Text)
		case '-':
			oldSeq = append(oldSeq, line.Text)
		case '+':
			newSeq = append(newSeq, line.Text)
		}
	}
	return oldSeq, newSeq
}

// locateHunk finds the position of oldSeq in lines, preferring positions
// nearest the expected one. It escalates the fuzz level only when the full
// sequence cannot be found anywhere. Fuzzing never drops more lines than the
// leading/trailing context runs of the hunk.
func locateHunk(lines []string, oldSeq []string, expected int, maxFuzz int) (int, int, bool) {
	for fuzz := 0; fuzz <= maxFuzz; fuzz++ {
		if fuzz*2 >= len(oldSeq) {
			break
		}
		seq := oldSeq[fuzz : len(oldSeq)-fuzz]
		if pos, ok := findNearest(lines, seq, expected); ok {
			return pos, fuzz, true
		}
	}
	return 0, 0, false
}

func findNearest(lines []string, seq []string, expected int) (int, bool) {
	if len(seq) == 0 {
		return 0, false
	}

	best := -1
	for pos := 0; pos+len(seq) <= len(lines); pos++ {
		if !matchesAt(lines, seq, pos) {
			continue
		}
		if best == -1 || abs(pos-expected) < abs(best-expected) {
			best = pos
		}
	}

	if best == -1 {
		return 0, false
	}
	return best, true
}

func matchesAt(lines []string, seq []string, pos int) bool {
	for i, s := range seq {
		if lines[pos+i] != s {
			return false
		}
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
