package admin

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/nilsbr/rushd/internal/backend"
)

// ManifestEntry is one backend definition in an import manifest, the
// bulk-provisioning counterpart to typing "create" once per site.
type ManifestEntry struct {
	Name      string `yaml:"name"`
	DocRoot   string `yaml:"doc_root"`
	TLS       bool   `yaml:"tls"`
	AutoStart bool   `yaml:"auto_start"`
}

// Manifest is a YAML document listing backends to provision in one pass,
// e.g.:
//
//	backends:
//	  - name: blog
//	    tls: true
//	    auto_start: true
//	  - name: status
//	    doc_root: /srv/status
type Manifest struct {
	Backends []ManifestEntry `yaml:"backends"`
}

// ParseManifest decodes a YAML manifest from path.
func ParseManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Import creates every backend named in the manifest, yielding the
// scheduler every bulkYieldChunk entries for the same fairness reason
// dispatchBulk does: a large manifest must not starve other administrative
// commands issued while the import is in progress. A failed entry does not
// abort the remaining ones; its error is collected and reported alongside
// the backends that did get created.
func Import(ctx context.Context, m *backend.Manager, manifest Manifest) Result {
	var created []backend.Backend
	var failed []string

	for i, entry := range manifest.Backends {
		b, err := m.Create(entry.Name, entry.DocRoot, entry.TLS)
		if err != nil {
			failed = append(failed, entry.Name+": "+err.Error())
		} else {
			if entry.AutoStart {
				if err := m.SetAutoStart(b.ID, true); err != nil {
					failed = append(failed, entry.Name+": "+err.Error())
				} else {
					b.AutoStart = true
				}
			}
			created = append(created, b)
		}

		if (i+1)%bulkYieldChunk == 0 {
			runtime.Gosched()
		}
	}

	result := Result{Command: "import", OK: len(failed) == 0, Backends: created}
	if len(failed) > 0 {
		result.Message = fmt.Sprintf("%d succeeded, %d failed: ", len(created), len(failed))
		for i, f := range failed {
			if i > 0 {
				result.Message += "; "
			}
			result.Message += f
		}
	}
	return result
}

// DispatchImport parses the manifest at the path named by args[0] and
// imports it. Wired into Dispatch as the "import <path>" command.
func DispatchImport(ctx context.Context, m *backend.Manager, line string, args []string) Result {
	if len(args) == 0 {
		return Result{Command: line, OK: false, Message: "import requires a manifest path"}
	}
	manifest, err := ParseManifest(args[0])
	if err != nil {
		return Result{Command: line, OK: false, Message: err.Error()}
	}
	r := Import(ctx, m, manifest)
	r.Command = line
	return r
}
