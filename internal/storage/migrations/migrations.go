// Package migrations bootstraps the aggregate and exchange tables.
// Every file is idempotent (CREATE ... IF NOT EXISTS), so running the
// set at each startup is safe.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var PostgresFS embed.FS

//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// migration is one SQL file broken into the statements sent to the server.
type migration struct {
	name       string
	statements []string
}

// execFunc runs a single statement.
type execFunc func(ctx context.Context, stmt string) error

// loadMigrations reads dir from fsys in lexical order. With split, each file
// is cut into single statements; otherwise the whole file is one statement.
func loadMigrations(fsys fs.FS, dir string, split bool) ([]migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", dir, err)
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		body := strings.TrimSpace(string(data))
		if body == "" {
			continue
		}

		m := migration{name: name}
		if split {
			m.statements = splitStatements(body)
		} else {
			m.statements = []string{body}
		}
		out = append(out, m)
	}
	return out, nil
}

// apply runs every statement of every migration in order and stops at the first failure.
func apply(ctx context.Context, migs []migration, exec execFunc) error {
	for _, m := range migs {
		for i, stmt := range m.statements {
			if err := exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s (statement %d): %w", m.name, i+1, err)
			}
		}
	}
	return nil
}

// splitStatements cuts sql on semicolons that sit outside single-quoted
// literals and "--" comments. Comments are dropped.
func splitStatements(sql string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case comment:
			if ch == '\n' {
				comment = false
				cur.WriteByte(ch)
			}
		case quoted:
			cur.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					cur.WriteByte(sql[i+1])
					i++
				} else {
					quoted = false
				}
			}
		case ch == '\'':
			quoted = true
			cur.WriteByte(ch)
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			comment = true
			i++
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return stmts
}
