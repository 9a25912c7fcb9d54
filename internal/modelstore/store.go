package modelstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
	"github.com/ducminhle1904/crypto-risk-engine/internal/monitoring"
)

const (
	component    = "modelstore"
	modelFile    = "model.json"
	metadataFile = "metadata.json"
	archiveDir   = "archive"
)

// Metadata is the sidecar record written next to every model artifact.
type Metadata struct {
	TokenID         string                `json:"token_id"`
	Version         int                   `json:"version"`
	TrainingDate    time.Time             `json:"training_date"`
	TrainingMetrics model.TrainingMetrics `json:"training_metrics"`
	SavedAt         time.Time             `json:"saved_at"`
	SchemaVersion   int                   `json:"schema_version"`
	Archived        bool                  `json:"archived,omitempty"`
	Labels          map[string]string     `json:"labels,omitempty"`
}

// Store persists model versions under <root>/<token>/v<N>.
type Store struct {
	root        string
	maxVersions int
	lockTimeout time.Duration
	staleAfter  time.Duration
	logger      zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithMaxVersions sets how many active versions a token keeps
func WithMaxVersions(n int) Option {
	return func(s *Store) { s.maxVersions = n }
}

// WithLockTimeout sets how long Save waits for the token lock
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithStaleLockAge sets when an abandoned lock is reclaimed
func WithStaleLockAge(d time.Duration) Option {
	return func(s *Store) { s.staleAfter = d }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New opens (creating if needed) a model store rooted at root.
func New(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:        root,
		maxVersions: 5,
		lockTimeout: 30 * time.Second,
		staleAfter:  5 * time.Minute,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxVersions < 1 {
		return nil, engineerrors.NewInvalidParameter(component, "New", "max versions must be >= 1, got %d", s.maxVersions)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, engineerrors.NewStorageError(component, "New", err)
	}
	return s, nil
}

// Save writes the model as the next version for token and archives versions
// beyond the retention limit. It returns the version directory.
func (s *Store) Save(m *model.SignalModel, token string, labels map[string]string) (string, error) {
	if err := validToken(token); err != nil {
		return "", err
	}
	art, err := m.Artifact()
	if err != nil {
		return "", err
	}

	tokenDir := filepath.Join(s.root, token)
	if err := os.MkdirAll(tokenDir, 0755); err != nil {
		return "", engineerrors.NewStorageError(component, "Save", err)
	}

	lock, err := acquireLock(tokenDir, s.lockTimeout, s.staleAfter)
	if err != nil {
		return "", engineerrors.NewStorageError(component, "Save", err).WithContext("token", token)
	}
	defer lock.release()

	version, err := s.nextVersion(token)
	if err != nil {
		return "", err
	}

	meta := Metadata{
		TokenID:         token,
		Version:         version,
		TrainingDate:    art.TrainedAt,
		TrainingMetrics: art.Metrics,
		SavedAt:         time.Now().UTC(),
		SchemaVersion:   art.SchemaVersion,
		Labels:          labels,
	}

	// Stage in a temp dir and commit with a rename so readers never see a partial version.
	tmp := filepath.Join(tokenDir, ".tmp-"+uuid.NewString())
	if err := os.Mkdir(tmp, 0755); err != nil {
		return "", engineerrors.NewStorageError(component, "Save", err)
	}
	if err := writeJSON(filepath.Join(tmp, modelFile), art); err != nil {
		os.RemoveAll(tmp)
		return "", engineerrors.NewStorageError(component, "Save", err)
	}
	if err := writeJSON(filepath.Join(tmp, metadataFile), meta); err != nil {
		os.RemoveAll(tmp)
		return "", engineerrors.NewStorageError(component, "Save", err)
	}
	dst := filepath.Join(tokenDir, versionDir(version))
	if err := os.Rename(tmp, dst); err != nil {
		os.RemoveAll(tmp)
		return "", engineerrors.NewStorageError(component, "Save", err)
	}

	monitoring.RecordModelSave(token)
	s.logger.Info().Str("token", token).Int("version", version).Str("path", dst).Msg("model saved")

	if _, err := s.prune(token, s.maxVersions); err != nil {
		return dst, err
	}
	return dst, nil
}

// LoadLatest returns the newest active version, or nil when the token has none.
func (s *Store) LoadLatest(token string) (*model.SignalModel, *Metadata, error) {
	versions, err := s.ListVersions(token)
	if err != nil {
		return nil, nil, err
	}
	if len(versions) == 0 {
		return nil, nil, nil
	}
	return s.Load(token, versions[len(versions)-1].Version)
}

// Load returns a specific version. Archived versions remain loadable.
func (s *Store) Load(token string, version int) (*model.SignalModel, *Metadata, error) {
	if err := validToken(token); err != nil {
		return nil, nil, err
	}
	candidates := []string{
		filepath.Join(s.root, token, versionDir(version)),
		filepath.Join(s.root, token, archiveDir, versionDir(version)),
	}
	for i, dir := range candidates {
		var art model.Artifact
		if err := readJSON(filepath.Join(dir, modelFile), &art); err != nil {
			if os.IsNotExist(err) {
				// may have been archived between listing and reading
				continue
			}
			return nil, nil, engineerrors.NewStorageError(component, "Load", err).WithContext("path", dir)
		}
		var meta Metadata
		if err := readJSON(filepath.Join(dir, metadataFile), &meta); err != nil {
			if os.IsNotExist(err) {
				// archived after the model file was read
				continue
			}
			return nil, nil, engineerrors.NewStorageError(component, "Load", err).WithContext("path", dir)
		}
		m, err := model.FromArtifact(&art)
		if err != nil {
			return nil, nil, err
		}
		meta.Archived = i == 1
		return m, &meta, nil
	}
	return nil, nil, engineerrors.NewModelNotFound(component, "Load", token, version)
}

// ListVersions reads the sidecar metadata of every active version, oldest first.
func (s *Store) ListVersions(token string) ([]Metadata, error) {
	if err := validToken(token); err != nil {
		return nil, err
	}
	return s.scan(filepath.Join(s.root, token))
}

// ListArchived reads the sidecar metadata of archived versions, oldest first.
func (s *Store) ListArchived(token string) ([]Metadata, error) {
	if err := validToken(token); err != nil {
		return nil, err
	}
	metas, err := s.scan(filepath.Join(s.root, token, archiveDir))
	for i := range metas {
		metas[i].Archived = true
	}
	return metas, err
}

// Archive moves a version into the archive area.
func (s *Store) Archive(token string, version int) error {
	if err := validToken(token); err != nil {
		return err
	}
	tokenDir := filepath.Join(s.root, token)
	lock, err := acquireLock(tokenDir, s.lockTimeout, s.staleAfter)
	if err != nil {
		return engineerrors.NewStorageError(component, "Archive", err).WithContext("token", token)
	}
	defer lock.release()
	return s.archive(token, version)
}

// Cleanup archives all but the newest keep versions and returns the archived ones.
func (s *Store) Cleanup(token string, keep int) ([]int, error) {
	if err := validToken(token); err != nil {
		return nil, err
	}
	if keep < 0 {
		return nil, engineerrors.NewInvalidParameter(component, "Cleanup", "keep must be >= 0, got %d", keep)
	}
	tokenDir := filepath.Join(s.root, token)
	if _, err := os.Stat(tokenDir); os.IsNotExist(err) {
		return nil, nil
	}
	lock, err := acquireLock(tokenDir, s.lockTimeout, s.staleAfter)
	if err != nil {
		return nil, engineerrors.NewStorageError(component, "Cleanup", err).WithContext("token", token)
	}
	defer lock.release()
	return s.prune(token, keep)
}

// prune must be called with the token lock held.
func (s *Store) prune(token string, keep int) ([]int, error) {
	versions, err := s.ListVersions(token)
	if err != nil {
		return nil, err
	}
	excess := len(versions) - keep
	var archived []int
	for i := 0; i < excess; i++ {
		v := versions[i].Version
		if err := s.archive(token, v); err != nil {
			return archived, err
		}
		archived = append(archived, v)
	}
	return archived, nil
}

func (s *Store) archive(token string, version int) error {
	src := filepath.Join(s.root, token, versionDir(version))
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return engineerrors.NewModelNotFound(component, "Archive", token, version)
	}
	dstDir := filepath.Join(s.root, token, archiveDir)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return engineerrors.NewStorageError(component, "Archive", err)
	}
	if err := os.Rename(src, filepath.Join(dstDir, versionDir(version))); err != nil {
		return engineerrors.NewStorageError(component, "Archive", err)
	}
	s.logger.Info().Str("token", token).Int("version", version).Msg("model version archived")
	return nil
}

// nextVersion derives the next version from metadata on disk, archived included.
func (s *Store) nextVersion(token string) (int, error) {
	active, err := s.ListVersions(token)
	if err != nil {
		return 0, err
	}
	archived, err := s.ListArchived(token)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, m := range append(active, archived...) {
		if m.Version > highest {
			highest = m.Version
		}
	}
	return highest + 1, nil
}

func (s *Store) scan(dir string) ([]Metadata, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, engineerrors.NewStorageError(component, "ListVersions", err)
	}
	var metas []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, ok := parseVersionDir(e.Name())
		if !ok {
			continue
		}
		var meta Metadata
		if err := readJSON(filepath.Join(dir, e.Name(), metadataFile), &meta); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.logger.Warn().Err(err).Str("dir", e.Name()).Msg("unreadable model metadata")
			meta = Metadata{Version: n}
		}
		if meta.Version == 0 {
			meta.Version = n
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Version < metas[j].Version })
	return metas, nil
}

func versionDir(v int) string {
	return "v" + strconv.Itoa(v)
}

func parseVersionDir(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "v")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func validToken(token string) error {
	if token == "" || token == "." || token == ".." || token == archiveDir ||
		strings.ContainsAny(token, `/\`) || strings.HasPrefix(token, ".") {
		return engineerrors.NewInvalidParameter(component, "token", "invalid token id %q", token)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0644)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
