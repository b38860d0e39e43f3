package output

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/skyward-obs/features-cli/internal/model"
)

// Manifest maps a unit key like "(296, 1, 1)" to the provenance record of
// its latest run. It is a best-effort sidecar next to the parquet files;
// the run ledger in the store stays authoritative.
type Manifest map[string]model.RunMeta

// ReadManifest loads the manifest at path. A missing file is an empty
// manifest.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "output: read manifest %s", path)
	}

	m := Manifest{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "output: parse manifest %s", path)
	}
	return m, nil
}

// UpdateManifest merges one run record into the manifest, creating the
// file when absent. The write goes through a temp file and rename so a
// crash never leaves a torn manifest. Concurrent units race on the
// read-merge-write; the store keeps the full history either way.
func UpdateManifest(path string, meta model.RunMeta) error {
	m, err := ReadManifest(path)
	if err != nil {
		// A corrupt manifest gets replaced rather than blocking the run.
		zap.L().Warn("replacing unreadable manifest", zap.String("path", path), zap.Error(err))
		m = Manifest{}
	}

	m[meta.Unit.String()] = meta

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return eris.Wrap(err, "output: marshal manifest")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".meta-*.json")
	if err != nil {
		return eris.Wrap(err, "output: create temp manifest")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return eris.Wrap(err, "output: write temp manifest")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrap(err, "output: close temp manifest")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "output: rename manifest %s", path)
	}
	return nil
}
