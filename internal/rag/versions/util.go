package versions

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func metadataJSON(m map[string]string) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func parseMetadataJSON(b []byte) map[string]string {
	if len(b) == 0 {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]string{}
	}
	return m
}

// uniqueViolation is the Postgres SQLSTATE for a unique-constraint conflict,
// the signal that a concurrent writer won the race on (entry_id, version).
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
