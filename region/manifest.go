package region

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var (
	ErrManifestVersion = errors.New("region: unsupported manifest version")
)

const manifestVersion = 1

// Manifest identifies a region independently of the path it is mounted at.
// It lives in a CBOR sidecar next to the backing file; the shared region
// itself carries only fixed binary layouts. The tree needs none of this: the
// root Gptr is the entire tree handle.
type Manifest struct {
	Version int       `cbor:"1,keyasint"`
	ID      uuid.UUID `cbor:"2,keyasint"`
	Size    uint64    `cbor:"3,keyasint"`
}

// NewManifest mints the identity record for a fresh region of size bytes.
func NewManifest(size uint64) Manifest {
	return Manifest{Version: manifestVersion, ID: uuid.New(), Size: size}
}

// ManifestPath returns the sidecar path for a backing file path.
func ManifestPath(path string) string { return path + ".manifest" }

// WriteManifest encodes man to the sidecar at path.
func WriteManifest(path string, man Manifest) error {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return err
	}
	b, err := em.Marshal(&man)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// ReadManifest decodes the sidecar at path.
func ReadManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var man Manifest
	if err = cbor.Unmarshal(b, &man); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if man.Version != manifestVersion {
		return Manifest{}, fmt.Errorf("%w: %d", ErrManifestVersion, man.Version)
	}
	return man, nil
}
