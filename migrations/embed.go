// Package migrations embeds the goose SQL migrations applied by the server,
// cmd/migrate and the integration test containers.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
