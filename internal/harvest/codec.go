package harvest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EncodeDataset renders a dataset as an indented JSON array. Non-ASCII text
// is written as-is and a nil dataset encodes as [].
func EncodeDataset(ds IssueDataset) ([]byte, error) {
	if ds == nil {
		ds = IssueDataset{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ds); err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDataset parses a JSON array of papers. Empty input is an empty dataset.
func DecodeDataset(data []byte) (IssueDataset, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return IssueDataset{}, nil
	}
	var ds IssueDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if ds == nil {
		ds = IssueDataset{}
	}
	return ds, nil
}

// Expand substitutes {journal}, {year} and {issue} in a path template.
// {issue} is zero-padded to two digits.
func (r DatasetRef) Expand(template string) string {
	return strings.NewReplacer(
		"{journal}", r.Journal,
		"{year}", strconv.Itoa(r.Year),
		"{issue}", fmt.Sprintf("%02d", r.Issue),
	).Replace(template)
}
