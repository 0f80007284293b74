// Package provenance implements the BMDE provenance chain: the case-folded
// design checksum, the backward diff-match-patch changelog, and the
// reconstruction that proves a submitted design matches its metadata.
//
// Everything here is a pure function of its inputs. Records may be verified
// concurrently without coordination.
package provenance
