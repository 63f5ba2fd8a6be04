// Package artifacts indexes the custom error definitions declared by compiled contract
// artifacts (Hardhat / Foundry JSON output) so revert payloads can be decoded without knowing
// in advance which contract produced them.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/settlemint/txconfirm/pkg/logger"
)

// Reasons an artifact file is left out of the index.
var (
	ErrNoABI              = errors.New("artifact has no abi field")
	ErrMalformedArtifact  = errors.New("artifact is not valid JSON")
	ErrInvalidABI         = errors.New("artifact abi cannot be parsed")
	ErrNoErrorDefinitions = errors.New("artifact abi declares no errors")
	ErrUnreadable         = errors.New("artifact cannot be read")
)

// Entry is an artifact that declares at least one custom error.
type Entry struct {
	SourcePath string
	ABI        abi.ABI
}

// SkipHook observes every file the index skipped, together with the reason.
type SkipHook func(path string, reason error)

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used to report skipped files and scan failures.
func WithLogger(lggr logger.Logger) Option {
	return func(i *Index) {
		i.lggr = lggr
	}
}

// WithSkipHook registers a hook called for every skipped file.
func WithSkipHook(hook SkipHook) Option {
	return func(i *Index) {
		i.onSkip = hook
	}
}

// Index is a lazily built, write-once list of error declaring ABIs found under a root
// directory. The first call to All scans the tree; every later call returns the same slice,
// so artifacts written after the first scan are not visible. It is safe for concurrent use.
type Index struct {
	root   string
	lggr   logger.Logger
	onSkip SkipHook

	once       sync.Once
	entries    []Entry
	bySelector map[[4]byte][]int
}

// NewIndex returns an Index over root. Nothing is read until All is called.
func NewIndex(root string, opts ...Option) *Index {
	idx := &Index{
		root: root,
		lggr: logger.Nop(),
	}
	for _, o := range opts {
		o(idx)
	}

	return idx
}

// Root returns the directory the index scans.
func (i *Index) Root() string {
	return i.root
}

// All returns every indexed entry, scanning the artifacts root on first use.
func (i *Index) All() []Entry {
	i.once.Do(i.build)

	return i.entries
}

// Lookup returns the entries declaring an error with the given selector.
func (i *Index) Lookup(selector [4]byte) []Entry {
	i.once.Do(i.build)

	positions := i.bySelector[selector]
	out := make([]Entry, 0, len(positions))
	for _, p := range positions {
		out = append(out, i.entries[p])
	}

	return out
}

// Signature is a custom error known to the index.
type Signature struct {
	Selector   [4]byte
	Sig        string
	SourcePath string
}

// Signatures returns every error signature in the index, sorted by signature then path.
func (i *Index) Signatures() []Signature {
	return signaturesOf(i.All(), nil)
}

// SignaturesFor returns the signatures with the given selector, sorted like Signatures.
func (i *Index) SignaturesFor(selector [4]byte) []Signature {
	return signaturesOf(i.Lookup(selector), &selector)
}

func signaturesOf(entries []Entry, only *[4]byte) []Signature {
	var out []Signature
	for _, e := range entries {
		for _, abiErr := range e.ABI.Errors {
			var sel [4]byte
			copy(sel[:], abiErr.ID[:4])
			if only != nil && sel != *only {
				continue
			}
			out = append(out, Signature{Selector: sel, Sig: abiErr.Sig, SourcePath: e.SourcePath})
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Sig != out[b].Sig {
			return out[a].Sig < out[b].Sig
		}

		return out[a].SourcePath < out[b].SourcePath
	})

	return out
}

func (i *Index) build() {
	i.bySelector = make(map[[4]byte][]int)
	i.entries = []Entry{}

	skipped := 0
	err := filepath.WalkDir(i.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == i.root {
				return walkErr
			}
			// An unreadable subdirectory must not abort the whole scan.
			i.skip(path, fmt.Errorf("%w: %w", ErrUnreadable, walkErr))
			skipped++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}

		entry, reason := loadArtifact(path)
		if reason != nil {
			i.skip(path, reason)
			skipped++

			return nil
		}
		i.add(entry)

		return nil
	})
	if err != nil {
		i.lggr.Warnw("Could not scan artifacts root, revert decoding falls back to prioritized ABIs only",
			"root", i.root, "error", err)
	}

	i.lggr.Debugw("Artifact index built", "root", i.root, "entries", len(i.entries), "skipped", skipped)
}

func (i *Index) add(e Entry) {
	pos := len(i.entries)
	i.entries = append(i.entries, e)
	for _, abiErr := range e.ABI.Errors {
		var sel [4]byte
		copy(sel[:], abiErr.ID[:4])
		i.bySelector[sel] = append(i.bySelector[sel], pos)
	}
}

func (i *Index) skip(path string, reason error) {
	i.lggr.Debugw("Skipping artifact", "path", path, "reason", reason)
	if i.onSkip != nil {
		i.onSkip(path, reason)
	}
}

// artifactFile is the subset of a compiled artifact the index cares about.
type artifactFile struct {
	ABI json.RawMessage `json:"abi"`
}

func loadArtifact(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	parsed, err := parseArtifact(data)
	if err != nil {
		return Entry{}, err
	}
	if len(parsed.Errors) == 0 {
		return Entry{}, ErrNoErrorDefinitions
	}

	return Entry{SourcePath: path, ABI: parsed}, nil
}

func parseArtifact(data []byte) (abi.ABI, error) {
	var af artifactFile
	if err := json.Unmarshal(data, &af); err != nil {
		return abi.ABI{}, fmt.Errorf("%w: %w", ErrMalformedArtifact, err)
	}
	if len(af.ABI) == 0 || bytes.Equal(bytes.TrimSpace(af.ABI), []byte("null")) {
		return abi.ABI{}, ErrNoABI
	}

	parsed, err := abi.JSON(bytes.NewReader(af.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("%w: %w", ErrInvalidABI, err)
	}

	return parsed, nil
}

// LoadABI reads the ABI of a compiled artifact, or a bare ABI JSON array.
func LoadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		parsed, err := abi.JSON(bytes.NewReader(trimmed))
		if err != nil {
			return abi.ABI{}, fmt.Errorf("%w: %w", ErrInvalidABI, err)
		}

		return parsed, nil
	}

	return parseArtifact(data)
}
