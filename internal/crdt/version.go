package crdt

import "fmt"

// Version is the three-part clock (service.snapshot.log) that orders a
// document's persisted state. Service is fixed per deployment; snapshot
// increments when a snapshot is cut (resetting log to 0); log increments
// on every persisted op.
type Version struct {
	Service  int `json:"service"`
	Snapshot int `json:"snapshot"`
	Log      int `json:"log"`
}

// NewVersion returns the initial version for a deployment.
func NewVersion(service int) Version {
	return Version{Service: service}
}

// Compare returns -1, 0, or 1 by lexicographic comparison of
// (service, snapshot, log).
func Compare(a, b Version) int {
	switch {
	case a.Service != b.Service:
		return sign(a.Service - b.Service)
	case a.Snapshot != b.Snapshot:
		return sign(a.Snapshot - b.Snapshot)
	default:
		return sign(a.Log - b.Log)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// BumpLog increments the log component.
func (v Version) BumpLog() Version {
	v.Log++
	return v
}

// BumpSnapshot increments the snapshot component and resets log to 0.
func (v Version) BumpSnapshot() Version {
	v.Snapshot++
	v.Log = 0
	return v
}

// String renders "service.snapshot.log", the form used in wire messages
// and logs.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Service, v.Snapshot, v.Log)
}
