package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSecretNotFound is returned when a secret has never been stored.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore reads and writes secrets outside the regular config file.
type SecretStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
}

// SecretsFilePath is the default location of the secrets file.
func SecretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "groupmind", "secrets.json")
}

// FileSecrets keeps secrets in a 0600 JSON file.
type FileSecrets struct {
	Path string
}

// NewSecrets returns the secret store at the default path.
func NewSecrets() FileSecrets {
	return FileSecrets{Path: SecretsFilePath()}
}

func (f FileSecrets) read() (map[string]string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	secrets := map[string]string{}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f FileSecrets) Get(name string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	v, ok := secrets[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

func (f FileSecrets) Set(name, value string) error {
	secrets, err := f.read()
	if err != nil {
		return err
	}
	secrets[name] = value

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, out, 0o600)
}

const apiTokenSecret = "api.token"

// GetAPIToken returns the admin API bearer token. GROUPMIND_API_TOKEN wins;
// otherwise the stored token is used, and one is generated on first use.
func GetAPIToken(s SecretStore) (string, error) {
	if v := os.Getenv("GROUPMIND_API_TOKEN"); v != "" {
		return v, nil
	}
	tok, err := s.Get(apiTokenSecret)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := s.Set(apiTokenSecret, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
