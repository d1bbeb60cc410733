package gateway

import (
	"errors"
	"fmt"
	"os"

	"github.com/strandworks/strand/runtime/program"
)

// CredentialResolver turns a credential reference into a secret value.
// Implementations must be safe for concurrent use.
type CredentialResolver interface {
	Resolve(ref program.CredentialRef) (string, error)
}

// EnvResolver resolves credential references from process environment
// variables. Both the env and secrets sources read the named variable;
// embedders integrating a real secret store supply their own resolver via
// Options.
type EnvResolver struct{}

// Resolve looks up the referenced environment variable. Unset or empty
// variables resolve to an error so credential maps can fall through to their
// next entry.
func (EnvResolver) Resolve(ref program.CredentialRef) (string, error) {
	v, ok := os.LookupEnv(ref.Key)
	if !ok || v == "" {
		return "", fmt.Errorf("credential %s:%s is not set", ref.Source, ref.Key)
	}
	return v, nil
}

// StaticResolver resolves references from a fixed key→value map, keyed by
// CredentialRef.Key. Used in tests and by embedders that inject secrets
// directly.
type StaticResolver map[string]string

// Resolve returns the mapped value for the reference key.
func (r StaticResolver) Resolve(ref program.CredentialRef) (string, error) {
	v, ok := r[ref.Key]
	if !ok || v == "" {
		return "", fmt.Errorf("credential %s:%s is not set", ref.Source, ref.Key)
	}
	return v, nil
}

// resolveCredential evaluates a provider's declared credential against the
// resolver. A map credential resolves to the first entry the resolver can
// satisfy, in declared order. A nil credential resolves to the empty string;
// adapters that require a key reject it at construction.
func resolveCredential(cred program.Credential, r CredentialResolver) (string, error) {
	switch c := cred.(type) {
	case nil:
		return "", nil
	case program.SingleCredential:
		return r.Resolve(c.Ref)
	case program.CredentialMap:
		var lastErr error
		for _, e := range c.Entries {
			v, err := r.Resolve(e.Ref)
			if err == nil {
				return v, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = errors.New("credential map has no entries")
		}
		return "", fmt.Errorf("no resolvable credential: %w", lastErr)
	default:
		return "", fmt.Errorf("unsupported credential shape %T", cred)
	}
}
