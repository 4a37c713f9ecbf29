package social

import (
	"github.com/markbates/goth"

	ua "github.com/panyam/userauth"
)

// FromGoth converts a user completed through a goth provider. Hosts that
// already run goth's handlers pass the result straight to Service.SocialLogin.
func FromGoth(u goth.User) *Identity {
	p := &ua.Profile{
		Username:  u.NickName,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Raw:       u.RawData,
	}
	if v, ok := u.RawData["email_verified"].(bool); ok {
		p.EmailVerified = v
	} else if v, ok := u.RawData["verified_email"].(bool); ok {
		p.EmailVerified = v
	}
	return &Identity{
		Provider:   ua.NormalizeProvider(u.Provider),
		ExternalID: u.UserID,
		Profile:    p,
	}
}
