package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/healsink/pkg/config"
)

// StoreSuite is the base for integration suites running against a sqlite
// store file. Each test gets its own database.
type StoreSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       *config.Config
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *StoreSuite) SetupSuite() {
	s.startTime = time.Now()
}

// SetupTest gives every test a fresh context and store.
func (s *StoreSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), time.Minute)
	s.cfg = SQLiteConfig(s.T())
}

// TearDownTest cancels the test context.
func (s *StoreSuite) TearDownTest() {
	s.cancel()
}

// TearDownSuite runs after all tests in the suite
func (s *StoreSuite) TearDownSuite() {
	s.T().Logf("store suite completed in %v", time.Since(s.startTime))
}

// Context returns the test context
func (s *StoreSuite) Context() context.Context {
	return s.ctx
}

// Config returns the test's pipeline configuration.
func (s *StoreSuite) Config() *config.Config {
	return s.cfg
}

// OpenStore opens a separate connection to the test's store for assertions.
func (s *StoreSuite) OpenStore() *sql.DB {
	db, err := sql.Open("sqlite3", s.cfg.Store.Database)
	require.NoError(s.T(), err)
	s.T().Cleanup(func() { db.Close() })
	return db
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// WriteJSONL writes items as JSON lines into a file under dir.
func WriteJSONL(t *testing.T, dir, name string, items []map[string]any) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, item := range items {
		require.NoError(t, enc.Encode(item))
	}
	return path
}
