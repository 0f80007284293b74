package provenance

import "fmt"

// Revision is one reconstructed historical state of a design.
type Revision struct {
	Number           int       `json:"revision"`
	Design           string    `json:"design"`
	OperationCode    string    `json:"operationCode,omitempty"`
	OperationDetails Details   `json:"operationDetails,omitempty"`
	Change           string    `json:"change,omitempty"`
	Timestamp        Timestamp `json:"timestamp"`
	Tool             string    `json:"tool,omitempty"`
}

// Header is the part of a record that identifies it, without its changelog.
type Header struct {
	ID               string    `json:"id"`
	ParentMetadataID *string   `json:"parentMetadataId"`
	DesignName       *string   `json:"designName"`
	DesignChecksum   string    `json:"designChecksum"`
	Author           string    `json:"author"`
	Description      string    `json:"description"`
	LastUpdated      Timestamp `json:"lastUpdated"`
}

func (r Record) Header() Header {
	c := r.Clone()
	return Header{
		ID:               c.ID,
		ParentMetadataID: c.ParentMetadataID,
		DesignName:       c.DesignName,
		DesignChecksum:   c.DesignChecksum,
		Author:           c.Author,
		Description:      c.Description,
		LastUpdated:      c.LastUpdated,
	}
}

// History is a verified provenance chain.
type History struct {
	Header
	// Revisions are ordered oldest first; the last one is the submitted design.
	Revisions []Revision `json:"revisions"`
	// InitialDesign is the state the chain walks back to before its first
	// operation.
	InitialDesign string `json:"-"`
}

// ReconstructRevisions proves that submitted is the design described by rec
// and rebuilds every earlier revision from the changelog, newest to oldest.
// Any failure is returned as an error; a partial history is never returned.
func ReconstructRevisions(rec Record, submitted string) (History, error) {
	if err := rec.Validate(); err != nil {
		return History{}, err
	}
	if got := Checksum(submitted); got != rec.DesignChecksum {
		return History{}, IntegrityError("reconstruct", "design checksum %s does not match record checksum %s", got, rec.DesignChecksum)
	}

	if len(rec.Changelog) == 0 {
		return History{
			Header:        rec.Header(),
			Revisions:     []Revision{{Number: 1, Design: submitted}},
			InitialDesign: submitted,
		}, nil
	}

	revisions := make([]Revision, len(rec.Changelog))
	current := submitted
	for i := len(rec.Changelog) - 1; i >= 0; i-- {
		op := rec.Changelog[i]
		previous, err := Apply(op.Change, current)
		if err != nil {
			return History{}, &Error{Kind: KindIntegrity, Op: "reconstruct", Err: chainError{revision: i + 1, code: op.OperationCode, err: err}}
		}
		revisions[i] = Revision{
			Number:           i + 1,
			Design:           current,
			OperationCode:    op.OperationCode,
			OperationDetails: op.OperationDetails.Clone(),
			Change:           op.Change,
			Timestamp:        op.Timestamp,
			Tool:             op.Tool,
		}
		current = previous
	}

	return History{
		Header:        rec.Header(),
		Revisions:     revisions,
		InitialDesign: current,
	}, nil
}

type chainError struct {
	revision int
	code     string
	err      error
}

func (e chainError) Error() string {
	return fmt.Sprintf("chain broken at revision %d (%s): %v", e.revision, e.code, e.err)
}

func (e chainError) Unwrap() error {
	return e.err
}
