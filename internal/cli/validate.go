package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sunzc-sunny/RDAnnotator/internal/auth"
)

// ResolveDirectory checks that the path exists and is a directory, then
// returns the absolute path.
func ResolveDirectory(dirPath string) (string, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory not found: %s", dirPath)
		}
		return "", fmt.Errorf("access directory %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", dirPath)
	}

	if absPath, err := filepath.Abs(dirPath); err == nil {
		dirPath = absPath
	}
	return dirPath, nil
}

// ExplainValidationError wraps an auth.ValidationError with a hint for the
// operator. Other errors are returned unchanged.
func ExplainValidationError(err error) error {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		return err
	}
	switch validationErr.Type {
	case auth.ErrTypeNoKey:
		return fmt.Errorf("no API key configured, set RDA_API_KEY or api_key_ssm_param: %w", err)
	case auth.ErrTypeInvalidKey:
		return fmt.Errorf("invalid API key, check the key and try again: %w", err)
	case auth.ErrTypeNetworkError:
		return fmt.Errorf("network error, check connectivity to the model endpoint: %w", err)
	case auth.ErrTypeQuotaExceeded:
		return fmt.Errorf("API quota exceeded, try again later: %w", err)
	default:
		return fmt.Errorf("API key validation failed: %w", err)
	}
}
