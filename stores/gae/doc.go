//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the userauth
// store interfaces. It is designed for deployment on Google Cloud Platform
// and supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - User: user accounts, keyed by user ID
//   - UsernameIndex, EmailIndex: uniqueness reservations keyed by the lower-cased value
//   - SocialIdentity: provider links keyed by "provider:external_id"
//   - SocialUserIndex: one link per provider per user, keyed by "provider:user_id"
//   - AuthToken: one-time tokens keyed by the sha256 of the value
//   - TokenIndex: current token per "user_id:purpose"
//
// Every write that has to stay unique runs inside RunInTransaction.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	stores := gae.NewStores(client, "tenant-123")
package gae
