package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}

	for i, stmt := range splitStatements(postAutoMigrateSQL) {
		if err := p.gdb.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("execute post-auto-migrate SQL statement %d: %w", i+1, err)
		}
	}
	return nil
}

// splitStatements splits a script on semicolons. The migration scripts hold
// plain DDL without string literals containing semicolons.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
