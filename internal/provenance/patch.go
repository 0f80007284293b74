package provenance

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// newCodec returns a diff-match-patch instance tuned for the changelog wire
// format: no diff deadline, so output is a pure function of the inputs, and
// zero fuzz on apply, so every hunk must meet its exact context.
func newCodec() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	dmp.MatchThreshold = 0
	dmp.PatchDeleteThreshold = 0
	return dmp
}

// Diff returns the patch text that turns after back into before.
//
// Changelog entries step backward: a verifier holds only the newest design
// and walks the chain toward the first one, so Apply(Diff(a, b), b) == a.
// Both designs must be valid UTF-8; anything else is a FormatError.
func Diff(before, after string) (string, error) {
	if !utf8.ValidString(before) {
		return "", FormatError("diff", "design before the change is not valid UTF-8 text")
	}
	if !utf8.ValidString(after) {
		return "", FormatError("diff", "design after the change is not valid UTF-8 text")
	}
	dmp := newCodec()
	patches := dmp.PatchMake(after, before)
	return dmp.PatchToText(patches), nil
}

// Apply applies patch text to source. A patch whose text cannot be parsed is a
// FormatError; a hunk whose context does not match source is a PatchError.
// The empty patch is the identity. A source that is not valid UTF-8 is a
// FormatError.
func Apply(patch string, source string) (out string, err error) {
	if !utf8.ValidString(source) {
		return "", FormatError("apply", "design is not valid UTF-8 text")
	}
	if patch == "" {
		return source, nil
	}
	dmp := newCodec()

	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = FormatError("apply", "malformed patch: %v", r)
		}
	}()

	patches, perr := dmp.PatchFromText(patch)
	if perr != nil {
		return "", FormatError("apply", "parse patch: %v", perr)
	}
	if len(patches) == 0 {
		return source, nil
	}

	result, applied := dmp.PatchApply(patches, source)
	for i, ok := range applied {
		if !ok {
			return "", PatchError("apply", "hunk %d of %d does not match source", i+1, len(applied))
		}
	}
	return result, nil
}
