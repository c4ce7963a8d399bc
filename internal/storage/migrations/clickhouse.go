package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "ledger-payment-stats/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database when missing, applies the
// embedded ClickHouse files one statement at a time, and returns a connection
// bound to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	database, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	migs, err := loadMigrations(ClickhouseFS, "clickhouse", true)
	if err != nil {
		return nil, err
	}

	if err := ensureDatabase(ctx, dsn, database); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, database)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse database %s: %w", database, err)
	}
	err = apply(ctx, migs, func(ctx context.Context, stmt string) error {
		return conn.Exec(ctx, stmt)
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func ensureDatabase(ctx context.Context, dsn, database string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "default")
	if err != nil {
		return fmt.Errorf("connect clickhouse server: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdentifier(database)); err != nil {
		return fmt.Errorf("create database %s: %w", database, err)
	}
	return nil
}

// quoteIdentifier backquotes name for use in DDL.
func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	database := strings.Trim(u.Path, "/")
	if database == "" {
		return "", fmt.Errorf("clickhouse dsn has no database path")
	}
	return database, nil
}
