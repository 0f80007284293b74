package provenance

import (
	"bytes"
	"encoding/json"
	"errors"
)

// MarshalRecord renders r in the interchange JSON shape.
func MarshalRecord(r Record) ([]byte, error) {
	if r.Changelog == nil {
		r.Changelog = []Operation{}
	}
	blob, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return nil, FormatError("marshal record", "%v", err)
	}
	return blob, nil
}

// UnmarshalRecord parses interchange JSON. Unknown fields are ignored so that
// records written by newer tools still verify.
func UnmarshalRecord(data []byte) (Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Record{}, FormatError("unmarshal record", "empty document")
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return Record{}, perr
		}
		return Record{}, FormatError("unmarshal record", "%v", err)
	}
	if r.Changelog == nil {
		r.Changelog = []Operation{}
	}
	for i := range r.Changelog {
		if r.Changelog[i].OperationDetails == nil {
			r.Changelog[i].OperationDetails = Details{}
		}
	}
	return r, nil
}
