// Package imports implements the secret import graph: CRUD over import edges
// and the resolver that folds imported folders into merged, override-resolved
// secret views.
package imports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keyfold/keyfold/internal/database"
	"github.com/keyfold/keyfold/pkg/metrics"
)

// maxImportDepth bounds recursive traversal of non-cyclic import chains.
const maxImportDepth = 32

// ResolvedSecret is one entry of a resolved view: the winning encrypted secret
// plus where it came from.
type ResolvedSecret struct {
	Secret      database.Secret
	SourceEnv   string
	SourcePath  string
	SourceLocal bool
}

// ResolvedView is an ordered key-to-secret map built by the resolver. Values
// stay encrypted until Materialize. Iteration follows first-insertion order of
// each key; overrides replace the value in place.
type ResolvedView struct {
	order   []string
	entries map[string]ResolvedSecret
}

// NewResolvedView returns an empty view.
func NewResolvedView() *ResolvedView {
	return &ResolvedView{entries: make(map[string]ResolvedSecret)}
}

// Set inserts or overrides the entry for the secret's key.
func (v *ResolvedView) Set(rs ResolvedSecret) {
	key := rs.Secret.Key
	if _, ok := v.entries[key]; !ok {
		v.order = append(v.order, key)
	}
	v.entries[key] = rs
}

// Get returns the entry for key, if present.
func (v *ResolvedView) Get(key string) (ResolvedSecret, bool) {
	rs, ok := v.entries[key]
	return rs, ok
}

// Len returns the number of distinct keys in the view.
func (v *ResolvedView) Len() int {
	return len(v.order)
}

// Entries returns the view's entries in insertion order.
func (v *ResolvedView) Entries() []ResolvedSecret {
	out := make([]ResolvedSecret, 0, len(v.order))
	for _, key := range v.order {
		out = append(out, v.entries[key])
	}
	return out
}

// Merge folds other into v, entry by entry. Entries of other win.
func (v *ResolvedView) Merge(other *ResolvedView) {
	for _, rs := range other.Entries() {
		v.Set(rs)
	}
}

// MaterializedSecret is a decrypted view entry.
type MaterializedSecret struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	Version    int    `json:"version"`
	SourceEnv  string `json:"source_environment"`
	SourcePath string `json:"source_path"`
	Local      bool   `json:"local"`
}

// DecryptFunc decrypts a stored secret's value.
type DecryptFunc func(s *database.Secret) ([]byte, error)

// Materialize decrypts the surviving entries in a single final pass. Traversal
// never decrypts; only winners pay the cipher cost.
func (v *ResolvedView) Materialize(decrypt DecryptFunc) ([]MaterializedSecret, error) {
	out := make([]MaterializedSecret, 0, v.Len())
	for _, rs := range v.Entries() {
		plaintext, err := decrypt(&rs.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt secret %s: %w", rs.Secret.Key, err)
		}
		out = append(out, MaterializedSecret{
			Key:        rs.Secret.Key,
			Value:      string(plaintext),
			Version:    rs.Secret.Version,
			SourceEnv:  rs.SourceEnv,
			SourcePath: rs.SourcePath,
			Local:      rs.SourceLocal,
		})
	}
	return out, nil
}

// ImportGroup is the fully-resolved view of a single top-level import edge,
// keeping per-edge provenance instead of collapsing across edges.
type ImportGroup struct {
	ImportID    uuid.UUID
	Environment string
	SecretPath  string
	FolderID    uuid.UUID
	View        *ResolvedView
}

// Resolver walks the import graph of a project and merges secret views.
type Resolver struct {
	projects database.ProjectRepository
	folders  database.FolderRepository
	secrets  database.SecretRepository
	imports  database.SecretImportRepository
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewResolver creates a resolver over the given repositories. metrics may be
// nil in tests.
func NewResolver(repos *database.Repositories, logger zerolog.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		projects: repos.Projects,
		folders:  repos.Folders,
		secrets:  repos.Secrets,
		imports:  repos.Imports,
		logger:   logger.With().Str("component", "resolver").Logger(),
		metrics:  m,
	}
}

// Resolve builds the merged secret view of (environment, path) within a
// project. A folder that does not exist resolves to an empty view; unresolved
// import targets contribute nothing. Later edges override earlier ones and
// local secrets always win.
func (r *Resolver) Resolve(ctx context.Context, projectID uuid.UUID, envSlug, folderPath string) (*ResolvedView, error) {
	start := time.Now()
	view := NewResolvedView()
	visited := 0
	err := r.resolveInto(ctx, projectID, envSlug, database.CanonicalPath(folderPath),
		0, map[string]bool{}, view, &visited)
	if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.ResolveDuration.Observe(time.Since(start).Seconds())
		r.metrics.ResolveFoldersVisited.Observe(float64(visited))
	}
	return view, nil
}

// resolveInto accumulates the view of (envSlug, folderPath) into view. The
// inProgress set holds the canonical names of folders on the current recursion
// stack; an edge targeting one of them is a cycle and is skipped.
func (r *Resolver) resolveInto(ctx context.Context, projectID uuid.UUID, envSlug, folderPath string, depth int, inProgress map[string]bool, view *ResolvedView, visited *int) error {
	if depth > maxImportDepth {
		r.logger.Warn().
			Str("environment", envSlug).
			Str("path", folderPath).
			Int("depth", depth).
			Msg("import depth limit reached, pruning traversal")
		return nil
	}

	folder, err := r.folders.GetByPath(ctx, projectID, envSlug, folderPath)
	if err != nil {
		if database.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to resolve folder %s:%s: %w", envSlug, folderPath, err)
	}
	*visited++

	name := canonicalName(envSlug, folderPath)
	inProgress[name] = true
	defer delete(inProgress, name)

	edges, err := r.imports.ListByFolder(ctx, folder.ID)
	if err != nil {
		return fmt.Errorf("failed to list imports of %s:%s: %w", envSlug, folderPath, err)
	}

	for _, edge := range edges {
		targetEnv, err := r.projects.GetEnvironment(ctx, edge.ImportEnvID)
		if err != nil {
			if database.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("failed to resolve import environment: %w", err)
		}
		if inProgress[canonicalName(targetEnv.Slug, edge.ImportPath)] {
			if r.metrics != nil {
				r.metrics.ResolveCycleSkips.Inc()
			}
			r.logger.Debug().
				Str("from", name).
				Str("to", canonicalName(targetEnv.Slug, edge.ImportPath)).
				Msg("skipping cyclic import edge")
			continue
		}
		err = r.resolveInto(ctx, projectID, targetEnv.Slug, edge.ImportPath,
			depth+1, inProgress, view, visited)
		if err != nil {
			return err
		}
	}

	// Local secrets overlay last so they win over every import.
	locals, err := r.secrets.ListByFolder(ctx, folder.ID)
	if err != nil {
		return fmt.Errorf("failed to list secrets of %s:%s: %w", envSlug, folderPath, err)
	}
	for _, s := range locals {
		view.Set(ResolvedSecret{
			Secret:      s,
			SourceEnv:   envSlug,
			SourcePath:  folderPath,
			SourceLocal: depth == 0,
		})
	}
	return nil
}

// ResolveGrouped resolves each top-level import edge of (environment, path)
// independently, preserving per-edge provenance. Edges are returned in
// ascending position order.
func (r *Resolver) ResolveGrouped(ctx context.Context, projectID uuid.UUID, envSlug, folderPath string) ([]ImportGroup, error) {
	folder, err := r.folders.GetByPath(ctx, projectID, envSlug, database.CanonicalPath(folderPath))
	if err != nil {
		if database.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve folder: %w", err)
	}

	edges, err := r.imports.ListByFolder(ctx, folder.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list imports: %w", err)
	}

	rootName := canonicalName(envSlug, database.CanonicalPath(folderPath))
	groups := make([]ImportGroup, 0, len(edges))
	for _, edge := range edges {
		targetEnv, err := r.projects.GetEnvironment(ctx, edge.ImportEnvID)
		if err != nil {
			if database.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to resolve import environment: %w", err)
		}

		group := ImportGroup{
			ImportID:    edge.ID,
			Environment: targetEnv.Slug,
			SecretPath:  edge.ImportPath,
			View:        NewResolvedView(),
		}
		if f, err := r.folders.GetByPath(ctx, projectID, targetEnv.Slug, edge.ImportPath); err == nil {
			group.FolderID = f.ID
		}

		visited := 0
		err = r.resolveInto(ctx, projectID, targetEnv.Slug, edge.ImportPath,
			1, map[string]bool{rootName: true}, group.View, &visited)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func canonicalName(envSlug, folderPath string) string {
	return envSlug + "\x00" + database.CanonicalPath(folderPath)
}
