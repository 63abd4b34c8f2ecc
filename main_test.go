package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"land-collector/config"
	"land-collector/models"
)

func TestCollectRefsFromArgsAndStdin(t *testing.T) {
	stdin := strings.NewReader("# seed list\n2412345678:111515\n\n  2400000001  \n")

	refs, err := collectRefs([]string{"2499999999"}, "-", stdin)
	require.NoError(t, err)
	assert.Equal(t, []models.ListingRef{
		{ArticleNo: "2499999999"},
		{ArticleNo: "2412345678", ComplexNo: "111515"},
		{ArticleNo: "2400000001"},
	}, refs)
}

func TestCollectRefsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\n2\n2\n"), 0o644))

	refs, err := collectRefs(nil, path, nil)
	require.NoError(t, err)
	assert.Len(t, refs, 3, "duplicates are reported by the collector, not dropped here")
}

func TestCollectRefsMissingFile(t *testing.T) {
	_, err := collectRefs(nil, filepath.Join(t.TempDir(), "nope.txt"), nil)
	assert.Error(t, err)
}

func TestSinkHintNamesConnectionSettings(t *testing.T) {
	cfg := &config.Config{Sink: "postgres", PostgresHost: "db.internal", PostgresPort: "6432",
		PostgresUser: "collector", PostgresDB: "land_db", PostgresPassword: "secret"}

	hint := sinkHint(cfg)
	assert.Contains(t, hint, "POSTGRES_HOST")
	assert.Contains(t, hint, "db.internal:6432")
	assert.NotContains(t, hint, "secret")
	assert.NotContains(t, strings.ToLower(hint), "docker")

	cfg.Sink = "csv"
	cfg.CSVOutputPath = "out/listings.csv"
	assert.Contains(t, sinkHint(cfg), "out/listings.csv")

	cfg.Sink = "s3"
	assert.Empty(t, sinkHint(cfg))
}
