package domain

import "time"

// Provider kinds with a concrete adapter.
const (
	ProviderGithub = "github"
)

// Integration is a provider installed for a workspace. Disabling an
// integration halts all sync and import activity that references it; existing
// mappings are kept.
type Integration struct {
	ID          string `db:"id"`
	WorkspaceID string `db:"workspace_id"`
	Provider    string `db:"provider"`
	// CredentialRef is an opaque handle owned by the auth collaborator;
	// the credential resolver turns it into provider auth material.
	CredentialRef string    `db:"credential_ref"`
	Enabled       bool      `db:"enabled"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
