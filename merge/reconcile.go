package merge

import (
	"kodeon-core/cas"
)

// Snapshot is a whole-project state captured while offline.
type Snapshot struct {
	ProjectID    string            `json:"projectId"`
	LastModified int64             `json:"lastModified"`
	Files        map[string]string `json:"files"` // path -> content digest
}

// Digest returns a canonical digest of the snapshot's file set, used to break
// equal-timestamp ties deterministically.
func (s *Snapshot) Digest() (string, error) {
	payload, err := cas.CanonicalJSON(s.Files)
	if err != nil {
		return "", err
	}
	return cas.Blake3HashHex(payload), nil
}

// Reconcile resolves a local and a remote snapshot of the same project using
// last-writer-wins at whole-snapshot granularity. The newer LastModified wins;
// on an exact tie the snapshot with the lexicographically larger file-set
// digest wins, so Reconcile(a, b) and Reconcile(b, a) pick the same state.
func Reconcile(local, remote *Snapshot) (*Snapshot, error) {
	if local == nil {
		return remote, nil
	}
	if remote == nil {
		return local, nil
	}

	if local.LastModified > remote.LastModified {
		return local, nil
	}
	if remote.LastModified > local.LastModified {
		return remote, nil
	}

	ld, err := local.Digest()
	if err != nil {
		return nil, err
	}
	rd, err := remote.Digest()
	if err != nil {
		return nil, err
	}
	if ld >= rd {
		return local, nil
	}
	return remote, nil
}
