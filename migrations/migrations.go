// migrations содержит SQL-миграции PostgreSQL, встроенные в бинарник для goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
