package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	ticketmail "github.com/goliatone/go-ticketmail"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// SourceLabel identifies the mail schema to the host's migration runner.
	SourceLabel = "go-ticketmail"
)

// Tables lists the relations created by the mail schema, in creation order.
var Tables = []string{
	"mail_connections",
	"mail_token_sets",
	"mail_auth_sessions",
	"mail_processing_records",
	"mail_thread_links",
}

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel string
	Dialects    []string
	Filesystems []FilesystemSpec
}

// RegisterFunc hands one dialect tree to the host, typically
// persistence.Client.RegisterDialectMigrations.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

// WithValidationTargets limits registration to the given dialects.
func WithValidationTargets(dialects ...string) Option {
	return func(r *Registration) {
		if normalized := normalizeDialects(dialects); len(normalized) > 0 {
			r.Dialects = normalized
		}
	}
}

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// Filesystems resolves the postgres tree at data/sql/migrations and the
// sqlite tree beneath it. Each tree must hold matching up/down pairs.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := ticketmail.GetCoreMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	const base = "data/sql/migrations"

	postgres, err := fs.Sub(root, base)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", base, err)
	}
	sqlite, err := fs.Sub(postgres, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	specs := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: base, FS: postgres},
		{Dialect: DialectSQLite, Path: base + "/" + DialectSQLite, FS: sqlite},
	}
	for _, spec := range specs {
		if err := checkPairs(spec); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// Register passes every selected dialect tree to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel: SourceLabel,
		Dialects:    []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	specs, err := Filesystems()
	if err != nil {
		return reg, err
	}
	for _, spec := range specs {
		if !slices.Contains(reg.Dialects, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s: %w", spec.Dialect, err)
		}
		reg.Filesystems = append(reg.Filesystems, spec)
	}
	if len(reg.Filesystems) == 0 {
		return reg, fmt.Errorf("migrations: no filesystem matches dialects %v", reg.Dialects)
	}
	return reg, nil
}

func checkPairs(spec FilesystemSpec) error {
	ups, err := fs.Glob(spec.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: glob %s: %w", spec.Path, err)
	}
	if len(ups) == 0 {
		return fmt.Errorf("migrations: %s tree %q has no *.up.sql files", spec.Dialect, spec.Path)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, statErr := fs.Stat(spec.FS, down); statErr != nil {
			return fmt.Errorf("migrations: %s is missing %s", spec.Path, down)
		}
	}
	return nil
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}
