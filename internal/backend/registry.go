package backend

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nilsbr/rushd/internal/apperr"
)

// LoadRegistry reads the backend list from path. A missing file yields an
// empty registry rather than an error, matching the original manager's
// "no existing server config, starting fresh" behavior.
func LoadRegistry(path string) ([]Backend, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.ErrInternal, "read registry", err)
	}

	var backends []Backend
	if err := json.Unmarshal(content, &backends); err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "parse registry", err)
	}
	return backends, nil
}

// SaveRegistry persists backends to path using the write-temp-then-rename
// pattern also used by the config package, so a crash mid-write never
// leaves a truncated registry file behind.
func SaveRegistry(path string, backends []Backend) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Wrap(apperr.ErrInternal, "create registry dir", err)
	}

	content, err := json.MarshalIndent(backends, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.ErrInternal, "marshal registry", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.ErrInternal, "open temp registry", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return apperr.Wrap(apperr.ErrInternal, "write temp registry", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return apperr.Wrap(apperr.ErrInternal, "sync temp registry", err)
	}
	if err := f.Close(); err != nil {
		return apperr.Wrap(apperr.ErrInternal, "close temp registry", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperr.Wrap(apperr.ErrInternal, "rename temp registry", err)
	}
	return nil
}
