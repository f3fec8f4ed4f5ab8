package jit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/xxh3"
)

var (
	// ErrCacheMiss means the store holds no artifact for the hash.
	ErrCacheMiss = errors.New("jit: no cached artifact")
	// ErrCorrupt means a stored artifact failed its checksum.
	ErrCorrupt = errors.New("jit: cached artifact is corrupt")
)

// Store persists backend artifacts keyed by the IR content hash. Stores are
// an optimization only; the compiler logs their errors and carries on.
type Store interface {
	Load(hash string) (*Artifact, error)
	Save(a *Artifact) error
	Close() error
}

// Artifact is one cached backend output.
type Artifact struct {
	Hash     string `cbor:"1,keyasint"`
	Symbol   string `cbor:"2,keyasint"`
	Code     []byte `cbor:"3,keyasint"`
	Checksum uint64 `cbor:"4,keyasint"`
	Created  int64  `cbor:"5,keyasint"`
}

// NewArtifact wraps code and computes its checksum.
func NewArtifact(hash, symbol string, code []byte) *Artifact {
	return &Artifact{
		Hash:     hash,
		Symbol:   symbol,
		Code:     code,
		Checksum: xxh3.Hash(code),
		Created:  time.Now().Unix(),
	}
}

// Verify checks the code against the recorded checksum.
func (a *Artifact) Verify() error {
	if xxh3.Hash(a.Code) != a.Checksum {
		return fmt.Errorf("%w: %s", ErrCorrupt, a.Hash)
	}
	return nil
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("jit: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalArtifact serializes a to canonical CBOR.
func MarshalArtifact(a *Artifact) ([]byte, error) {
	return cborEncMode.Marshal(a)
}

// UnmarshalArtifact decodes and verifies an artifact.
func UnmarshalArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := a.Verify(); err != nil {
		return nil, err
	}
	return &a, nil
}

// ---------------------------------------------------------------------------
// Directory store
// ---------------------------------------------------------------------------

// DirStore keeps one CBOR file per hash in a directory.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) path(hash string) string {
	return filepath.Join(s.dir, hash+".cbor")
}

func (s *DirStore) Load(hash string) (*Artifact, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("reading cached artifact: %w", err)
	}
	a, err := UnmarshalArtifact(data)
	if err != nil {
		return nil, err
	}
	if a.Hash != hash {
		return nil, fmt.Errorf("%w: file %s holds %s", ErrCorrupt, hash, a.Hash)
	}
	return a, nil
}

// Save writes through a temporary file so readers never see a partial
// artifact.
func (s *DirStore) Save(a *Artifact) error {
	data, err := MarshalArtifact(a)
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, a.Hash+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing cached artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cached artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cached artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(a.Hash)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("installing cached artifact: %w", err)
	}
	return nil
}

func (s *DirStore) Close() error { return nil }
