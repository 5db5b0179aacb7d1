package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ecomhub/gateway/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postJSON sends body to the router's POST /test route and parses the
// response envelope.
func postJSON(t *testing.T, router *gin.Engine, body string, headers map[string]string) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	req := httptest.NewRequest("POST", "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp dto.Response
	if w.Code != http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestSetupValidator(t *testing.T) {
	SetupValidator()

	v, ok := binding.Validator.Engine().(*validator.Validate)
	require.True(t, ok)
	assert.NotNil(t, v)
}

func TestFormatValidationErrors(t *testing.T) {
	type registerRequest struct {
		Name    string `json:"name" binding:"required,min=3"`
		BaseURL string `json:"base_url" binding:"required,url"`
	}

	SetupValidator()

	router := gin.New()
	router.POST("/test", func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	t.Run("one detail per failing field", func(t *testing.T) {
		w, resp := postJSON(t, router, `{"name": "ab", "base_url": "not-a-url"}`, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.Equal(t, "Request validation failed", resp.Error.Message)
		assert.Len(t, resp.Error.Details, 2)
	})

	t.Run("details use json tag names", func(t *testing.T) {
		w, resp := postJSON(t, router, `{"name": "orders", "base_url": "nope"}`, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, resp.Error)
		require.Len(t, resp.Error.Details, 1)
		assert.Equal(t, "base_url", resp.Error.Details[0].Field)
	})

	t.Run("valid input passes through", func(t *testing.T) {
		w, _ := postJSON(t, router, `{"name": "orders", "base_url": "http://orders.internal:8080"}`, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestValidationMessage(t *testing.T) {
	type input struct {
		Required string `validate:"required"`
		Min      string `validate:"min=5"`
		Max      string `validate:"max=10"`
		UUID     string `validate:"uuid"`
		OneOf    string `validate:"oneof=a b c"`
		GTE      int    `validate:"gte=10"`
		LTE      int    `validate:"lte=100"`
		URL      string `validate:"url"`
		Numeric  string `validate:"numeric"`
	}

	v := validator.New()
	messageFor := func(t *testing.T, obj input, field string) string {
		t.Helper()
		err := v.Struct(obj)
		require.Error(t, err)
		for _, e := range err.(validator.ValidationErrors) {
			if e.Field() == field {
				return validationMessage(e)
			}
		}
		t.Fatalf("no validation error reported for field %s", field)
		return ""
	}

	cases := []struct {
		field string
		obj   input
		want  string
	}{
		{"Required", input{}, "This field is required"},
		{"Min", input{Required: "x", Min: "ab"}, "Must be at least 5 characters"},
		{"Max", input{Required: "x", Max: "this is way too long"}, "Must be at most 10 characters"},
		{"UUID", input{Required: "x", UUID: "invalid"}, "Invalid UUID format"},
		{"OneOf", input{Required: "x", OneOf: "d"}, "Must be one of: a b c"},
		{"GTE", input{Required: "x", GTE: 5}, "Must be greater than or equal to 10"},
		{"LTE", input{Required: "x", LTE: 200}, "Must be less than or equal to 100"},
		{"URL", input{Required: "x", URL: "invalid"}, "Invalid URL format"},
		{"Numeric", input{Required: "x", Numeric: "abc"}, "Must be numeric"},
	}

	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			assert.Equal(t, tc.want, messageFor(t, tc.obj, tc.field))
		})
	}
}

func TestHandleValidationError(t *testing.T) {
	type input struct {
		Name string `json:"name" binding:"required"`
	}

	newRouter := func(mw ...gin.HandlerFunc) *gin.Engine {
		router := gin.New()
		router.Use(mw...)
		router.POST("/test", func(c *gin.Context) {
			var in input
			if err := c.ShouldBindJSON(&in); err != nil {
				HandleValidationError(c, err)
			}
		})
		return router
	}

	t.Run("writes the validation error code", func(t *testing.T) {
		w, resp := postJSON(t, newRouter(), `{}`, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	})

	t.Run("carries the request id when present", func(t *testing.T) {
		w, resp := postJSON(t, newRouter(RequestID()), `{}`,
			map[string]string{"X-Request-ID": "req-42"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "req-42", resp.Error.RequestID)
	})
}
