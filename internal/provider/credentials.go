package provider

import (
	"context"
	"fmt"
	"os"
)

// EnvCredentialResolver reads tokens from the process environment. The
// credential reference stored on an integration is the variable name, so the
// database never holds the secret itself.
type EnvCredentialResolver struct{}

func (EnvCredentialResolver) Resolve(_ context.Context, credentialRef string) (string, error) {
	token := os.Getenv(credentialRef)
	if token == "" {
		return "", fmt.Errorf("credential %q is not set", credentialRef)
	}
	return token, nil
}
