// Package auth resolves the model API key and checks it before a run spends
// any work on it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".rdannotator"
	credentialFile = "credentials.gpg"
)

// SSMAPI is the subset of *ssm.Client used to fetch the key.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

var _ SSMAPI = (*ssm.Client)(nil)

// Sources lists where GetAPIKey may find the key.
type Sources struct {
	// Key is a key already resolved from flags or the environment.
	Key string
	// SSM and SSMParam enable the Parameter Store lookup.
	SSM      SSMAPI
	SSMParam string
}

// GetAPIKey retrieves the model API key.
// Priority order:
//  1. Sources.Key (RDA_API_KEY and backend-specific variables)
//  2. GPG-encrypted file at ~/.rdannotator/credentials.gpg
//  3. SSM Parameter Store, when a client and parameter name are given
func GetAPIKey(ctx context.Context, src Sources) (string, error) {
	if src.Key != "" {
		log.Debug().Msg("Using API key from environment")
		return src.Key, nil
	}

	key, gpgErr := getFromGPG()
	if gpgErr == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}

	if src.SSM != nil && src.SSMParam != "" {
		key, err := LoadFromSSM(ctx, src.SSM, src.SSMParam)
		if err == nil {
			return key, nil
		}
		log.Warn().Err(err).Str("param", src.SSMParam).Msg("API key not available from SSM")
	}

	log.Error().Err(gpgErr).Msg("Failed to retrieve API key")
	return "", &ValidationError{
		Type:    ErrTypeNoKey,
		Message: "API key not found. Set RDA_API_KEY, create ~/" + credentialDir + "/" + credentialFile + ", or configure api_key_ssm_param",
	}
}

// LoadFromSSM reads a SecureString parameter.
func LoadFromSSM(ctx context.Context, client SSMAPI, param string) (string, error) {
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read %s from SSM: %w", param, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil || *result.Parameter.Value == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", param)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("API key loaded from SSM")
	return *result.Parameter.Value, nil
}

// getFromGPG decrypts ~/.rdannotator/credentials.gpg with the gpg binary.
func getFromGPG() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	credPath := filepath.Join(home, credentialDir, credentialFile)
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("GPG credentials file %s: %w", credPath, err)
	}

	args := []string{"--decrypt", "--quiet"}
	if pass := passphraseFile(); pass != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pass)
	}
	log.Debug().Str("file", credPath).Int("args", len(args)).Msg("Decrypting GPG credentials")

	output, err := exec.Command("gpg", append(args, credPath)...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// passphraseFile returns the first owner-only .gpg-passphrase found next to
// the executable or in the working directory, or "".
func passphraseFile() string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, ".gpg-passphrase")
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if perm := fi.Mode().Perm(); perm&0o077 != 0 {
			log.Warn().Str("file", path).Str("perm", fmt.Sprintf("%04o", perm)).
				Msg("Ignoring passphrase file readable by others (want 0600)")
			continue
		}
		return path
	}
	return ""
}
