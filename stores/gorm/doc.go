//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the userauth store interfaces.
// It works with any database GORM supports; unique violations are detected
// through gorm.ErrDuplicatedKey, so the *gorm.DB must be opened with
// TranslateError enabled (Open does this for PostgreSQL).
//
// # Database Schema
//
// AutoMigrate creates the following tables:
//   - users: accounts, unique on the lower-cased username and email
//   - social_identities: provider links, unique on (provider, external_id) and (provider, user_id)
//   - auth_tokens: one-time tokens keyed by sha256 of the value
//
// # Usage
//
//	db, _ := gormstore.Open(dsn)
//	_ = gormstore.AutoMigrate(db)
//	stores := gormstore.NewStores(db)
package gorm
