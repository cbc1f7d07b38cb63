// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// KeyProvider supplies the RSA signing key and the public key set for the
// JWKS endpoint. Implementations handle key sourcing (files or generation).
type KeyProvider interface {
	// SigningKey returns the current signing key and its key id.
	SigningKey() (*rsa.PrivateKey, string, error)

	// PublicKeys returns all public keys as a JWK set. May contain more
	// than one key during rotation.
	PublicKeys() (jwk.Set, error)
}

type loadedKey struct {
	key *rsa.PrivateKey
	kid string
}

// FileProvider loads RSA signing keys from PEM files in a directory. The
// lexicographically first file signs new tokens; the rest remain in the
// JWKS for verification during rotation. Keys are loaded once at
// construction; changes require a restart.
type FileProvider struct {
	signing loadedKey
	all     []loadedKey
}

// NewFileProvider loads every *.pem file from dir.
func NewFileProvider(dir string) (*FileProvider, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.pem"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no signing keys found in %s", dir)
	}
	sort.Strings(paths)

	var all []loadedKey
	for _, path := range paths {
		key, err := loadKeyFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key %s: %w", path, err)
		}
		all = append(all, key)
	}

	return &FileProvider{signing: all[0], all: all}, nil
}

func loadKeyFromFile(path string) (loadedKey, error) {
	data, err := os.ReadFile(path) // #nosec G304 - key directory is operator-provided
	if err != nil {
		return loadedKey{}, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return loadedKey{}, fmt.Errorf("no PEM block in %s", path)
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		parsed, perr := x509.ParsePKCS8PrivateKey(block.Bytes)
		if perr != nil {
			return loadedKey{}, perr
		}
		var ok bool
		key, ok = parsed.(*rsa.PrivateKey)
		if !ok {
			return loadedKey{}, fmt.Errorf("%s is not an RSA key", path)
		}
	default:
		return loadedKey{}, fmt.Errorf("unsupported PEM type %q in %s", block.Type, path)
	}
	if err != nil {
		return loadedKey{}, err
	}

	return loadedKey{key: key, kid: deriveKeyID(key)}, nil
}

// SigningKey returns the primary signing key.
func (p *FileProvider) SigningKey() (*rsa.PrivateKey, string, error) {
	return p.signing.key, p.signing.kid, nil
}

// PublicKeys returns every loaded key's public half as a JWK set.
func (p *FileProvider) PublicKeys() (jwk.Set, error) {
	return buildJWKS(p.all)
}

// GeneratingProvider generates an ephemeral RSA key on first use. Suitable
// for development only; issued tokens are invalid after a restart.
type GeneratingProvider struct {
	mu  sync.Mutex
	key *loadedKey
}

// NewGeneratingProvider creates a provider with lazy key generation.
func NewGeneratingProvider() *GeneratingProvider {
	return &GeneratingProvider{}
}

func (p *GeneratingProvider) generate() (*loadedKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.key != nil {
		return p.key, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	p.key = &loadedKey{key: key, kid: deriveKeyID(key)}

	logger.Warnw("generated ephemeral signing key, tokens will be invalid after restart",
		"key_id", p.key.kid)
	return p.key, nil
}

// SigningKey returns the key, generating it if needed.
func (p *GeneratingProvider) SigningKey() (*rsa.PrivateKey, string, error) {
	k, err := p.generate()
	if err != nil {
		return nil, "", err
	}
	return k.key, k.kid, nil
}

// PublicKeys returns the public half of the generated key.
func (p *GeneratingProvider) PublicKeys() (jwk.Set, error) {
	k, err := p.generate()
	if err != nil {
		return nil, err
	}
	return buildJWKS([]loadedKey{*k})
}

func buildJWKS(keys []loadedKey) (jwk.Set, error) {
	set := jwk.NewSet()
	for _, k := range keys {
		pub, err := jwk.FromRaw(k.key.Public())
		if err != nil {
			return nil, fmt.Errorf("failed to build JWK: %w", err)
		}
		if err := pub.Set(jwk.KeyIDKey, k.kid); err != nil {
			return nil, err
		}
		if err := pub.Set(jwk.AlgorithmKey, "RS256"); err != nil {
			return nil, err
		}
		if err := pub.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := set.AddKey(pub); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// deriveKeyID derives a stable key id from the public modulus.
func deriveKeyID(key *rsa.PrivateKey) string {
	sum := sha256.Sum256(key.PublicKey.N.Bytes())
	return hex.EncodeToString(sum[:8])
}

// Compile-time interface checks.
var (
	_ KeyProvider = (*FileProvider)(nil)
	_ KeyProvider = (*GeneratingProvider)(nil)
)
