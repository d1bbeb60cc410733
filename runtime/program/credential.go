package program

type (
	// Credential names how a provider API key is obtained. Implementations are
	// exactly SingleCredential and CredentialMap; the loader resolves the two
	// source shapes (a bare reference, or a named map of references) into these
	// variants once, at load.
	Credential interface {
		isCredential()
	}

	// SingleCredential is one reference.
	SingleCredential struct {
		Ref CredentialRef
	}

	// CredentialMap is an ordered list of named references. Resolution walks
	// the entries in declared order and uses the first that resolves.
	CredentialMap struct {
		Entries []NamedRef
	}

	// NamedRef labels a credential reference inside a CredentialMap.
	NamedRef struct {
		// Name is the source map key, kept for diagnostics.
		Name string

		// Ref is the reference.
		Ref CredentialRef
	}

	// CredentialRef points at a secret in a named store.
	CredentialRef struct {
		// Source is CredentialEnv or CredentialSecrets.
		Source CredentialSource

		// Key is the lookup key within the source, e.g. the environment
		// variable name.
		Key string
	}

	// CredentialSource is the closed set of credential stores.
	CredentialSource int
)

const (
	// CredentialEnv resolves the key against process environment variables.
	CredentialEnv CredentialSource = iota
	// CredentialSecrets resolves the key against the configured secret store.
	// The default resolver maps it to environment variables as well; embedders
	// supply their own resolver to integrate a real store.
	CredentialSecrets
)

func (SingleCredential) isCredential() {}
func (CredentialMap) isCredential()    {}

// ParseCredentialSource maps a source label to its CredentialSource. Unknown
// labels map to CredentialEnv.
func ParseCredentialSource(s string) CredentialSource {
	if s == "secrets" {
		return CredentialSecrets
	}
	return CredentialEnv
}

// String returns the canonical label of the source.
func (s CredentialSource) String() string {
	if s == CredentialSecrets {
		return "secrets"
	}
	return "env"
}
