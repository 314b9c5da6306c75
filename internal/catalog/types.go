// Package catalog defines the canonical catalog-entry model shared by the
// ingestion, relation, and serving layers.
package catalog

// LicenseClass is the derived free/non-free classification of an entry.
type LicenseClass string

const (
	LicenseFree    LicenseClass = "free"
	LicenseNonFree LicenseClass = "nonfree"
)

// RawEntry is an unvalidated catalog record as loaded from a dataset file or
// submitted to the ingestion API. Field names follow the dataset schema.
type RawEntry struct {
	ID                string   `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	Description       string   `json:"description" yaml:"description"`
	Website           string   `json:"website_url" yaml:"website_url"`
	SourceCode        string   `json:"source_code_url" yaml:"source_code_url"`
	Categories        []string `json:"categories" yaml:"categories"`
	Platforms         []string `json:"platforms" yaml:"platforms"`
	Licenses          []string `json:"licenses" yaml:"licenses"`
	ForkOf            string   `json:"fork_of" yaml:"fork_of"`
	AlternativeTo     []string `json:"alternative_to" yaml:"alternative_to"`
	Stars             int64    `json:"stars" yaml:"stars"`
	DependsOn3rdParty bool     `json:"depends_3rdparty" yaml:"depends_3rdparty"`
}

// Entry is one normalized catalog record, immutable for the duration of a
// relation run. Set-valued fields are never nil: the normalizer coerces
// absent values to empty slices so scorers only ever see "empty set means
// no match".
type Entry struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Description       string       `json:"description"`
	Website           string       `json:"website_url,omitempty"`
	SourceCode        string       `json:"source_code_url,omitempty"`
	Categories        []string     `json:"categories"`
	Platforms         []string     `json:"platforms"`
	Licenses          []string     `json:"licenses"`
	LicenseClass      LicenseClass `json:"license_class"`
	ForkOf            string       `json:"fork_of,omitempty"`
	AlternativeTo     []string     `json:"alternative_to"`
	Stars             int64        `json:"stars"`
	DependsOn3rdParty bool         `json:"depends_3rdparty"`
}

// EntryEvent announces an accepted catalog entry on the ingest topic.
type EntryEvent struct {
	EntryID   string `json:"entry_id"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}
