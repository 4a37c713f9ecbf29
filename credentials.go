package userauth

import (
	"regexp"
	"strings"
)

const (
	UsernameMinLength = 3
	UsernameMaxLength = 30
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernameStrip = regexp.MustCompile(`[^a-z0-9_.-]+`)
)

// RegisterRequest carries the fields accepted by Service.Register
type RegisterRequest struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ValidateUsername checks length and allowed characters
func ValidateUsername(username string) error {
	if len(username) < UsernameMinLength || len(username) > UsernameMaxLength {
		return validationError("username", "username must be %d-%d characters", UsernameMinLength, UsernameMaxLength)
	}
	if !usernameRegex.MatchString(username) {
		return validationError("username", "username can only contain letters, numbers, dots, underscores, and hyphens")
	}
	return nil
}

// ValidateEmail checks the email format. An empty email is accepted.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if !emailRegex.MatchString(email) {
		return validationError("email", "invalid email format")
	}
	return nil
}

// MaxPasswordLength is the longest password in bytes that every supported
// hasher accepts. bcrypt reads no further than this.
const MaxPasswordLength = 72

// ValidatePassword enforces the minimum length and MaxPasswordLength
func ValidatePassword(password string, minLength int) error {
	if len(password) < minLength {
		return validationError("password", "password must be at least %d characters", minLength)
	}
	if len(password) > MaxPasswordLength {
		return validationError("password", "password must be at most %d bytes", MaxPasswordLength)
	}
	return nil
}

// Validate checks every field of the request
func (r *RegisterRequest) Validate(minPasswordLength int) error {
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	return ValidatePassword(r.Password, minPasswordLength)
}

// IsEmailIdentifier reports whether a login identifier should be treated as an email
func IsEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// UsernameFromProfile derives a candidate username from provider data:
// the provider username, then the email local part, then the display name,
// then provider plus external id.
func UsernameFromProfile(provider, externalID string, p *Profile) string {
	var candidates []string
	if p != nil {
		candidates = append(candidates, p.Username)
		if at := strings.Index(p.Email, "@"); at > 0 {
			candidates = append(candidates, p.Email[:at])
		}
		candidates = append(candidates, p.Name, strings.TrimSpace(p.FirstName+"."+p.LastName))
	}
	candidates = append(candidates, provider+"_"+externalID)

	for _, c := range candidates {
		name := sanitizeUsername(c)
		if len(name) >= UsernameMinLength {
			return name
		}
	}
	return sanitizeUsername(provider + "_user")
}

func sanitizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", ".")
	s = usernameStrip.ReplaceAllString(s, "")
	s = strings.Trim(s, ".-_")
	// leave room for a numeric collision suffix
	if len(s) > UsernameMaxLength-4 {
		s = s[:UsernameMaxLength-4]
	}
	return s
}
