// Package userauth is the authentication and social identity core of an
// application: it stores credentials, hashes passwords, issues one-time
// tokens, links external provider accounts to users and runs the login,
// logout and password management flows.
//
// # Architecture
//
// Stores: UserStore, SocialIdentityStore and TokenStore are implemented by
// the backends under stores/ (fs, postgres, gorm, gae). Uniqueness of
// usernames, emails and social identities is enforced by the backend.
//
// Service: orchestrates the flows and publishes lifecycle events through an
// Emitter. EventBus is the default emitter; sinks/ has ready-made
// subscribers.
//
// Commands: CreateUser and CreateSuperuser are the routines behind the
// usersctl administrative tool.
//
// # Basic Usage
//
//	import (
//	    "github.com/panyam/userauth"
//	    "github.com/panyam/userauth/stores/fs"
//	)
//
//	stores := fs.NewStores("/path/to/storage")
//	bus := userauth.NewEventBus(nil)
//	settings := userauth.DefaultSettings()
//	settings.Session.Secret = os.Getenv("SESSION_SECRET")
//
//	svc, err := userauth.NewService(userauth.Deps{Stores: stores, Events: bus}, settings)
//
// Register and log in:
//
//	user, err := svc.Register(ctx, userauth.RegisterRequest{
//	    Username: "alice", Email: "alice@example.com", Password: "correct horse",
//	})
//	sess, err := svc.Login(ctx, "alice", "correct horse")
//
// Social login (profile obtained through the social package):
//
//	sess, err := svc.SocialLogin(ctx, "github", "12345", profile)
//
// # Errors
//
// Operations return sentinel errors such as ErrInvalidCredentials or
// ErrDuplicateUsername wrapped with an oops code; match them with errors.Is.
package userauth
