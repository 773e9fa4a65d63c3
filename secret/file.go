package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileProviderName is the provider name of FileProvider.
const FileProviderName = "file"

// FileProvider reads secrets from files, as mounted by Docker or
// Kubernetes. Surrounding whitespace is trimmed.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider resolving relative refs against dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) Name() string { return FileProviderName }

// Resolve returns the trimmed content of the file named by ref.
func (p *FileProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := ref
	if !filepath.IsAbs(path) && p.dir != "" {
		path = filepath.Join(p.dir, path)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("secret: read file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (p *FileProvider) Close() error { return nil }

var _ Provider = (*FileProvider)(nil)
