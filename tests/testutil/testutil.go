// Package testutil holds the helpers shared across handler and
// middleware tests: a sqlmock-backed GORM handle, a gin test context
// wrapper and a few timing assertions.
package testutil

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ecomhub/gateway/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockDB is a GORM handle whose driver is a sqlmock, so store code can
// run without a real PostgreSQL.
type MockDB struct {
	DB    *gorm.DB
	Mock  sqlmock.Sqlmock
	SqlDB *sql.DB
}

// NewMockDB opens a sqlmock-backed GORM connection. Close it when the
// test is done.
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return &MockDB{DB: db, Mock: mock, SqlDB: sqlDB}
}

func (m *MockDB) Close() error {
	return m.SqlDB.Close()
}

// ExpectationsWereMet fails the test when the mock still has pending
// expectations.
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	require.NoError(t, m.Mock.ExpectationsWereMet())
}

// TestContext bundles a gin context with its response recorder.
type TestContext struct {
	Context  *gin.Context
	Recorder *httptest.ResponseRecorder
	Engine   *gin.Engine
}

// NewTestContext builds a test context around a bare GET /.
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()
	return NewTestContextWithRequest(t, http.MethodGet, "/", nil)
}

// NewTestContextWithRequest builds a test context around the given
// request, or a bodyless one for method and path when req is nil.
func NewTestContextWithRequest(t *testing.T, method, path string, req *http.Request) *TestContext {
	t.Helper()

	w := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(w)
	if req == nil {
		req = httptest.NewRequest(method, path, nil)
	}
	c.Request = req

	return &TestContext{Context: c, Recorder: w, Engine: engine}
}

// SetRequestID plants a request id the way the middleware would.
func (tc *TestContext) SetRequestID(id string) {
	tc.Context.Set(middleware.RequestIDKey, id)
}

// SetCallerID plants the resolved caller identity under the key the
// JWT middleware uses.
func (tc *TestContext) SetCallerID(id string) {
	tc.Context.Set(middleware.JWTCallerIDKey, id)
}

// SetBearerToken sets the Authorization header on the request.
func (tc *TestContext) SetBearerToken(token string) {
	tc.SetHeader("Authorization", "Bearer "+token)
}

// SetHeader sets a request header.
func (tc *TestContext) SetHeader(key, value string) {
	tc.Context.Request.Header.Set(key, value)
}

// ResponseBody returns the recorded response body.
func (tc *TestContext) ResponseBody() []byte {
	return tc.Recorder.Body.Bytes()
}

// ResponseCode returns the recorded status code.
func (tc *TestContext) ResponseCode() int {
	return tc.Recorder.Code
}

// testNamespace seeds deterministic UUIDs.
var testNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// NewTestUUID derives a reproducible UUID from seed.
func NewTestUUID(seed string) uuid.UUID {
	return uuid.NewSHA1(testNamespace, []byte(seed))
}

// NewRandomUUID returns a fresh random UUID.
func NewRandomUUID() uuid.UUID {
	return uuid.New()
}

// TestCallerID returns the caller id tests use when identity does not
// matter; it is stable across runs.
func TestCallerID() string {
	return "caller-" + NewTestUUID("test-caller").String()[:8]
}

// ContextWithTimeout is context.WithTimeout for tests.
func ContextWithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}

// ContextWithCancel is context.WithCancel for tests.
func ContextWithCancel(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithCancel(context.Background())
}

// await polls condition until it returns true or the deadline passes.
func await(condition func() bool, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// AssertEventually fails the test when condition does not become true
// within timeout.
func AssertEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	if !await(condition, timeout, interval) {
		t.Fatalf("Condition not met within %v: %v", timeout, msgAndArgs)
	}
}

// RequireEventually is AssertEventually with a testify-style failure.
func RequireEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	if !await(condition, timeout, interval) {
		require.Fail(t, "Condition not met within timeout", msgAndArgs...)
	}
}

// AssertNever fails the test the moment condition becomes true within
// the observation window.
func AssertNever(t *testing.T, condition func() bool, duration, interval time.Duration, msgAndArgs ...interface{}) {
	t.Helper()
	if await(condition, duration, interval) {
		t.Fatalf("Condition unexpectedly became true: %v", msgAndArgs)
	}
}
