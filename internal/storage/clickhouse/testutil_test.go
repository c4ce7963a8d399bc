package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testImage = "clickhouse/clickhouse-server:24.8-alpine"

// setupTestDB starts ClickHouse, creates the schema and returns a
// connection plus the cleanup to defer.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping clickhouse integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImage,
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":                        "ledger",
				"CLICKHOUSE_USER":                      "default",
				"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
			},
			WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://default@%s/ledger", endpoint))
	require.NoError(t, err)

	createSchema(t, conn)

	return conn, func() {
		conn.Close()
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate clickhouse container: %v", err)
		}
	}
}

// createSchema executes the bootstrap DDL. The files are read from disk
// because the migrations package imports this one; each holds one
// statement, which the native protocol requires per Exec.
func createSchema(t *testing.T, conn *Conn) {
	t.Helper()

	files, err := filepath.Glob(filepath.Join("..", "migrations", "clickhouse", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no clickhouse migrations found")

	for _, file := range files {
		raw, err := os.ReadFile(file)
		require.NoError(t, err)

		stmt := strings.TrimSuffix(strings.TrimSpace(string(raw)), ";")
		require.NoError(t, conn.Exec(context.Background(), stmt), "apply %s", filepath.Base(file))
	}
}
