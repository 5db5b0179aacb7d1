package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// HTTPTestCase drives one request through a handler. Method and Path
// default to GET /. Setup runs before the handler, Validate after.
type HTTPTestCase struct {
	Name           string
	Method         string
	Path           string
	Body           interface{}
	Headers        map[string]string
	ExpectedStatus int
	ExpectedBody   map[string]interface{}
	Setup          func(t *testing.T, tc *TestContext)
	Validate       func(t *testing.T, tc *TestContext)
}

func (tc HTTPTestCase) request(t *testing.T) *http.Request {
	t.Helper()

	method := tc.Method
	if method == "" {
		method = http.MethodGet
	}
	path := tc.Path
	if path == "" {
		path = "/"
	}

	var body io.Reader
	if tc.Body != nil {
		body = ToJSONReader(t, tc.Body)
	}
	req := httptest.NewRequest(method, path, body)
	if tc.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range tc.Headers {
		req.Header.Set(k, v)
	}
	return req
}

// RunHTTPTestCases runs each case as a subtest.
func RunHTTPTestCases(t *testing.T, handler gin.HandlerFunc, cases []HTTPTestCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			RunHTTPTestCase(t, handler, tc)
		})
	}
}

// RunHTTPTestCase sends the case's request to handler and checks the
// expected status and body keys.
func RunHTTPTestCase(t *testing.T, handler gin.HandlerFunc, tc HTTPTestCase) {
	t.Helper()

	req := tc.request(t)
	testCtx := NewTestContextWithRequest(t, req.Method, req.URL.Path, req)
	if tc.Setup != nil {
		tc.Setup(t, testCtx)
	}

	handler(testCtx.Context)

	if tc.ExpectedStatus != 0 {
		assert.Equal(t, tc.ExpectedStatus, testCtx.ResponseCode())
	}
	if tc.ExpectedBody != nil {
		actual := JSONResponse(t, testCtx)
		for key, want := range tc.ExpectedBody {
			assert.Equal(t, want, actual[key], "key %s", key)
		}
	}
	if tc.Validate != nil {
		tc.Validate(t, testCtx)
	}
}

// JSONResponse decodes the recorded body into a generic map.
func JSONResponse(t *testing.T, tc *TestContext) map[string]interface{} {
	return JSONResponseAs[map[string]interface{}](t, tc)
}

// JSONResponseAs decodes the recorded body into T.
func JSONResponseAs[T any](t *testing.T, tc *TestContext) T {
	t.Helper()

	var result T
	require.NoError(t, json.Unmarshal(tc.ResponseBody(), &result),
		"response body is not valid JSON")
	return result
}

// AssertSuccessResponse checks for a success envelope without an error.
func AssertSuccessResponse(t *testing.T, tc *TestContext) {
	t.Helper()

	resp := JSONResponse(t, tc)
	assert.Equal(t, true, resp["success"])
	assert.Nil(t, resp["error"])
}

// AssertErrorResponse checks for an error envelope with the given code.
func AssertErrorResponse(t *testing.T, tc *TestContext, expectedCode string) {
	t.Helper()

	resp := JSONResponse(t, tc)
	assert.Equal(t, false, resp["success"])

	errMap, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "error object missing from response")
	assert.Equal(t, expectedCode, errMap["code"])
}

// ToJSONReader marshals v into an io.Reader.
func ToJSONReader(t *testing.T, v interface{}) io.Reader {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}
