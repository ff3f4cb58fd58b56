package ir

// Version constants for documents and the repository engine.
const (
	// DocumentFormatVersion is the version of the stored field document format.
	DocumentFormatVersion = "1"

	// EngineVersion is the folio engine version.
	EngineVersion = "0.1.0"
)
