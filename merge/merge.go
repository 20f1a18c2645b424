// Package merge provides 3-way tree merging and offline snapshot
// reconciliation.
package merge

import (
	"errors"
	"fmt"
	"sort"
)

var ErrConflict = errors.New("merge conflict")

// ConflictKind classifies the type of merge conflict.
type ConflictKind string

const (
	ConflictBothModified   ConflictKind = "BOTH_MODIFIED"
	ConflictBothAdded      ConflictKind = "BOTH_ADDED"
	ConflictDeleteVsModify ConflictKind = "DELETE_VS_MODIFY"
	ConflictModifyVsDelete ConflictKind = "MODIFY_VS_DELETE"
)

// Conflict describes a single path the merge could not resolve.
type Conflict struct {
	Path  string
	Kind  ConflictKind
	Base  string // digest in the base tree, empty if absent
	Left  string
	Right string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s", c.Path, c.Kind)
}

// ConflictError carries the full set of unresolved paths. It matches
// ErrConflict under errors.Is.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	paths := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		paths[i] = c.String()
	}
	return fmt.Sprintf("merge conflict: %v", paths)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TreeResult is the outcome of a 3-way tree merge. When Conflicts is empty,
// Tree holds the merged path to digest mapping.
type TreeResult struct {
	Tree      map[string]string
	Conflicts []Conflict
}

// Clean reports whether the merge resolved without conflicts.
func (r *TreeResult) Clean() bool {
	return len(r.Conflicts) == 0
}

// Err returns a *ConflictError listing the conflicted paths, or nil for a
// clean merge.
func (r *TreeResult) Err() error {
	if r.Clean() {
		return nil
	}
	return &ConflictError{Conflicts: r.Conflicts}
}

// Trees performs a 3-way merge of path to digest trees. Per path: a side that
// matches the base yields, identical changes collapse, diverging changes
// conflict. Deletion against an unchanged side wins; deletion against a
// modification conflicts. The merge is symmetric up to conflict kind naming.
func Trees(base, left, right map[string]string) *TreeResult {
	result := &TreeResult{Tree: make(map[string]string)}

	for _, path := range allPaths(base, left, right) {
		b, inBase := base[path]
		l, inLeft := left[path]
		r, inRight := right[path]

		switch {
		case !inBase:
			// Added on one or both sides.
			if inLeft && inRight {
				if l == r {
					result.Tree[path] = l
				} else {
					result.Conflicts = append(result.Conflicts, Conflict{
						Path: path, Kind: ConflictBothAdded, Left: l, Right: r,
					})
				}
			} else if inLeft {
				result.Tree[path] = l
			} else {
				result.Tree[path] = r
			}

		case !inLeft && !inRight:
			// Deleted on both sides.

		case !inLeft:
			if r == b {
				// Right unchanged, accept deletion.
			} else {
				result.Conflicts = append(result.Conflicts, Conflict{
					Path: path, Kind: ConflictDeleteVsModify, Base: b, Right: r,
				})
			}

		case !inRight:
			if l == b {
				// Left unchanged, accept deletion.
			} else {
				result.Conflicts = append(result.Conflicts, Conflict{
					Path: path, Kind: ConflictModifyVsDelete, Base: b, Left: l,
				})
			}

		case l == r:
			result.Tree[path] = l

		case l == b:
			result.Tree[path] = r

		case r == b:
			result.Tree[path] = l

		default:
			result.Conflicts = append(result.Conflicts, Conflict{
				Path: path, Kind: ConflictBothModified, Base: b, Left: l, Right: r,
			})
		}
	}

	sort.Slice(result.Conflicts, func(i, j int) bool {
		return result.Conflicts[i].Path < result.Conflicts[j].Path
	})
	return result
}

func allPaths(trees ...map[string]string) []string {
	seen := make(map[string]bool)
	for _, t := range trees {
		for p := range t {
			seen[p] = true
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
