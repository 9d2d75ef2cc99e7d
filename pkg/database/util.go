// Copyright 2025 Ceramic Network

package database

import (
	"database/sql/driver"

	"github.com/lib/pq"
)

// pqStringArray adapts a []string for use as a Postgres text[] bind
// parameter (ANY($n) clauses), via lib/pq's Array support.
func pqStringArray(ss []string) driver.Valuer {
	return pq.Array(ss)
}
