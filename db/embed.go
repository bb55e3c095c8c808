// Package db embeds the storefront schema and the demo catalog.
package db

import _ "embed"

// Schema contains the idempotent DDL for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Catalog is the seed catalog used by cmd/seed-db and integration tests.
//
//go:embed seed/catalog.json
var Catalog []byte
