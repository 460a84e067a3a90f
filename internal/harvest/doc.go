// Package harvest defines the records, contracts and error taxonomy shared by
// the journal harvesting pipeline: fetch transports, listing parsers, the
// detail enricher, the merge engine and the dataset stores.
package harvest
