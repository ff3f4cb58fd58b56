package querysql

import "database/sql"

// Columns is the select list of every entity search. Row scans it.
const Columns = "e.id, e.uuid, e.type, v.name, e.auth_key, e.status, v.version, " +
	"e.latest_version, e.published_version, e.valid_latest, e.valid_published, " +
	"e.created_at, e.updated_at, v.schema_version, v.type, v.fields"

// Row is one entity search result, joined with the version in scope.
type Row struct {
	RowID            int64
	ID               string
	Type             string
	Name             string
	AuthKey          string
	Status           string
	Version          int
	LatestVersion    int
	PublishedVersion sql.NullInt64
	ValidLatest      bool
	ValidPublished   bool
	// CreatedAt and UpdatedAt are Unix microseconds.
	CreatedAt     int64
	UpdatedAt     int64
	SchemaVersion int
	// VersionType is the entity type the version was written as. It lags
	// Type after an entity type rename until the version is migrated.
	VersionType string
	// Fields is the canonical JSON field document of the version.
	Fields string
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanRow reads one row selected with Columns.
func ScanRow(s Scanner) (Row, error) {
	var r Row
	err := s.Scan(
		&r.RowID, &r.ID, &r.Type, &r.Name, &r.AuthKey, &r.Status, &r.Version,
		&r.LatestVersion, &r.PublishedVersion, &r.ValidLatest, &r.ValidPublished,
		&r.CreatedAt, &r.UpdatedAt, &r.SchemaVersion, &r.VersionType, &r.Fields,
	)
	return r, err
}
