package db

import (
	"io/fs"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/att?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/att?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/att", migrateURL("postgresql://localhost/att"))
	require.Equal(t, "pgx5://localhost/att", migrateURL("pgx5://localhost/att"))
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}

func TestHoursColumnsKeepFourDecimals(t *testing.T) {
	ups, err := fs.Glob(migrations, "migrations/*.up.sql")
	require.NoError(t, err)
	column := regexp.MustCompile(`(\w+_hours) NUMERIC\((\d+),(\d+)\)`)
	found := 0
	for _, name := range ups {
		raw, err := fs.ReadFile(migrations, name)
		require.NoError(t, err)
		for _, m := range column.FindAllStringSubmatch(string(raw), -1) {
			found++
			require.Equal(t, "4", m[3], "%s: %s", name, m[0])
		}
	}
	require.NotZero(t, found)
}

func TestPoolConfigTagsSessions(t *testing.T) {
	cfg, err := poolConfig("postgres://u:p@localhost:5432/att?sslmode=disable")
	require.NoError(t, err)
	require.Equal(t, ApplicationName, cfg.ConnConfig.RuntimeParams["application_name"])
	require.Equal(t, "UTC", cfg.ConnConfig.RuntimeParams["timezone"])

	cfg, err = poolConfig("postgres://u:p@localhost:5432/att?application_name=attendancectl")
	require.NoError(t, err)
	require.Equal(t, "attendancectl", cfg.ConnConfig.RuntimeParams["application_name"])

	_, err = poolConfig("postgres://u:p@localhost:5432/att?pool_max_conns=lots")
	require.Error(t, err)
}
