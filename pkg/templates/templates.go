package templates

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cdnbox/pkg/fileutil"
)

// LoginPageFile is the file name looked up in every search location
const LoginPageFile = "login.html"

// SourceEmbedded marks a page served from the built-in copy
const SourceEmbedded = "embedded"

//go:embed login.html
var defaultLoginPage []byte

// Page is a loaded static page and where it came from
type Page struct {
	Content []byte
	Source  string
}

// LoginPagePaths returns the search paths for the login page.
// Search order:
// 1. <repoDir>/cdn/login.html (shipped with the served repository)
// 2. ./templates/login.html
// 3. /etc/cdnbox/login.html
func LoginPagePaths(repoDir string) []string {
	var paths []string
	if repoDir != "" {
		paths = append(paths, filepath.Join(repoDir, "cdn", LoginPageFile))
	}
	return append(paths,
		filepath.Join(".", "templates", LoginPageFile),
		filepath.Join(fileutil.SystemConfigDir, LoginPageFile),
	)
}

// LoadLoginPage reads the login page. An explicitly configured path must
// exist; otherwise the search paths are tried and the embedded page is
// the fallback.
func LoadLoginPage(configured, repoDir string) (*Page, error) {
	if configured != "" {
		return readPage(configured)
	}

	if path := fileutil.SearchPathsOptional(LoginPagePaths(repoDir)); path != "" {
		return readPage(path)
	}

	return DefaultLoginPage(), nil
}

// DefaultLoginPage returns the built-in login page. The page hashes the
// password with SHA-256 in the browser and posts {"hash": ...} to /login.
func DefaultLoginPage() *Page {
	return &Page{Content: defaultLoginPage, Source: SourceEmbedded}
}

func readPage(path string) (*Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %s: %w", path, err)
	}
	return &Page{Content: content, Source: path}, nil
}
