package docs

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeOp is the kind of a diff line.
type ChangeOp string

const (
	OpEqual  ChangeOp = "equal"
	OpInsert ChangeOp = "insert"
	OpDelete ChangeOp = "delete"
)

// Change is one line-level diff segment between two versions.
type Change struct {
	Op   ChangeOp
	Text string
}

// Diff computes line-level changes between two versions of a document.
// Swapping the version arguments reverses insertions and deletions.
func (s *Store) Diff(docID string, from, to int64) ([]Change, error) {
	before, err := s.Content(docID, from)
	if err != nil {
		return nil, err
	}
	after, err := s.Content(docID, to)
	if err != nil {
		return nil, err
	}
	return DiffLines(string(before), string(after)), nil
}

// DiffLines diffs two texts line by line.
func DiffLines(before, after string) []Change {
	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var changes []Change
	for _, d := range diffs {
		var op ChangeOp
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			op = OpEqual
		case diffmatchpatch.DiffInsert:
			op = OpInsert
		case diffmatchpatch.DiffDelete:
			op = OpDelete
		}
		for _, line := range splitLines(d.Text) {
			changes = append(changes, Change{Op: op, Text: line})
		}
	}
	return changes
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
