package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Session carries the identity and language of the portal user. It is built
// by the transport layer and handed explicitly to the components that need
// it. It is immutable after construction.
type Session struct {
	SubjectID     string
	Email         string
	TenantID      string
	Roles         []string
	Locale        string
	Token         string
	CorrelationID string
}

// Validate checks that all mandatory fields are present.
// SubjectID and TenantID must be non-empty.
func (s Session) Validate() error {
	var errs []error
	if s.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if s.TenantID == "" {
		errs = append(errs, fmt.Errorf("TenantID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the session carries the given role.
func (s Session) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

// HasAnyRole returns true if the session carries at least one of the roles.
// An empty list admits everyone.
func (s Session) HasAnyRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if s.HasRole(r) {
			return true
		}
	}
	return false
}

// Translator resolves message IDs to localized text.
type Translator interface {
	T(messageID string) string
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(messageID string) string

// T calls f.
func (f TranslatorFunc) T(messageID string) string { return f(messageID) }

// IdentityTranslator returns message IDs unchanged.
var IdentityTranslator Translator = TranslatorFunc(func(id string) string { return id })

type sessionKey struct{}

// WithSession attaches a Session to the context. Only the transport layer
// should call this; everything below it receives the Session as a value.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom extracts the Session from the context.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
