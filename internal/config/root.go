package config

import (
	"github.com/mahmoud-eltahawy/webls/internal/sandbox"
)

// RootContext is the process-wide immutable pair of canonical sandbox root
// and shared secret. It is built once at startup and only read afterwards.
type RootContext struct {
	sandbox      *sandbox.Sandbox
	password     string
	passwordHash string
}

// NewRootContext canonicalizes the configured root and captures the secret.
func NewRootContext(c *Config) (*RootContext, error) {
	sb, err := sandbox.New(c.Root)
	if err != nil {
		return nil, err
	}
	return &RootContext{
		sandbox:      sb,
		password:     c.Password,
		passwordHash: c.PasswordHash,
	}, nil
}

// Sandbox returns the sandbox for the canonical root.
func (rc *RootContext) Sandbox() *sandbox.Sandbox {
	return rc.sandbox
}

// Root returns the canonical absolute root directory.
func (rc *RootContext) Root() string {
	return rc.sandbox.Root()
}

// Secret returns the plain shared secret and its bcrypt hash. At most one
// is used: the hash wins when set.
func (rc *RootContext) Secret() (password, hash string) {
	return rc.password, rc.passwordHash
}
