// Package version implements the (major, minor, patch) compatibility rule
// used by core/conn to gate the application channel on a version handshake.
package version

import (
	"encoding/binary"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

// Version is a major.minor.patch triple.
type Version struct {
	Major, Minor, Patch uint64
}

// New builds a Version.
func New(major, minor, patch uint64) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// next returns the lowest version that is no longer compatible with v:
// next((0, m, _)) = (0, m+1, 0); next((M, _, _)) = (M+1, 0, 0) for M>0.
func (v Version) next() Version {
	if v.Major == 0 {
		return Version{Major: 0, Minor: v.Minor + 1, Patch: 0}
	}
	return Version{Major: v.Major + 1, Minor: 0, Patch: 0}
}

// less reports whether a < b in lexicographic (major, minor, patch) order.
func less(a, b Version) bool {
	if a.Major != b.Major {
		return a.Major < b.Major
	}
	if a.Minor != b.Minor {
		return a.Minor < b.Minor
	}
	return a.Patch < b.Patch
}

// IsCompatibleWith reports whether, from the perspective of a holder of
// version v, peer version u is compatible: u >= v and u < next(v).
func (v Version) IsCompatibleWith(u Version) bool {
	return !less(u, v) && less(u, v.next())
}

// MarshalBinary encodes the version as three big-endian u64 fields.
func (v Version) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], v.Major)
	binary.BigEndian.PutUint64(buf[8:16], v.Minor)
	binary.BigEndian.PutUint64(buf[16:24], v.Patch)
	return buf, nil
}

// UnmarshalBinary decodes a version from its 24-byte big-endian form.
func (v *Version) UnmarshalBinary(b []byte) error {
	if len(b) != 24 {
		return fmt.Errorf("version: expected 24 bytes, got %d", len(b))
	}
	v.Major = binary.BigEndian.Uint64(b[0:8])
	v.Minor = binary.BigEndian.Uint64(b[8:16])
	v.Patch = binary.BigEndian.Uint64(b[16:24])
	return nil
}

// BuildInfo returns a human-readable build description (module version,
// commit, and dirty flag as known at link time) to surface alongside the
// negotiated protocol Version in diagnostics. The manager's Info/List
// responses do not carry it.
func BuildInfo() string {
	return versioninfo.Short()
}
