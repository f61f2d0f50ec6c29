package core

import "fmt"

// ProtocolVersion is a semver triple. Contracts record the version they were
// stored under; a caller may only invoke a contract whose major version
// matches its own.
type ProtocolVersion struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// VersionCheckResult classifies a proposed upgrade target.
type VersionCheckResult uint8

const (
	// VersionInvalid: the new version does not strictly succeed the old one.
	VersionInvalid VersionCheckResult = iota
	// VersionMajor: major bump; an upgrade installer is mandatory.
	VersionMajor
	// VersionMinorOrPatch: minor/patch bump; installer optional.
	VersionMinorOrPatch
)

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsCompatibleWith reports whether code stored under v may be invoked by a
// caller running other. Only the major number matters.
func (v ProtocolVersion) IsCompatibleWith(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// CheckNextVersion validates that next strictly succeeds v: exactly one of a
// major bump (resetting minor/patch), a minor bump (resetting patch), or a
// patch bump.
func (v ProtocolVersion) CheckNextVersion(next ProtocolVersion) VersionCheckResult {
	switch {
	case next.Major == v.Major+1 && next.Minor == 0 && next.Patch == 0:
		return VersionMajor
	case next.Major == v.Major && next.Minor == v.Minor+1 && next.Patch == 0:
		return VersionMinorOrPatch
	case next.Major == v.Major && next.Minor == v.Minor && next.Patch == v.Patch+1:
		return VersionMinorOrPatch
	default:
		return VersionInvalid
	}
}

func (v ProtocolVersion) toBytes() []byte {
	e := encoder{}
	e.u32(v.Major)
	e.u32(v.Minor)
	e.u32(v.Patch)
	return e.buf
}

func (d *decoder) protocolVersion() ProtocolVersion {
	return ProtocolVersion{Major: d.u32(), Minor: d.u32(), Patch: d.u32()}
}
