package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRoutesAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }

	rt := Routes{R: r, Auth: deny}
	rt.GET("/open", ok, RouteOpt{})
	rt.GET("/closed", ok, RouteOpt{IsAuth: true})
	rt.POST("/closed", ok, RouteOpt{IsAuth: true})

	// Auth 为空时不拦截
	Routes{R: r.Group("/dev")}.PATCH("/x", ok, RouteOpt{IsAuth: true})

	for path, want := range map[string]int{"/open": 200, "/closed": 401} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/dev/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestManagerStopsOnAbort(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager()
	var trace []string
	m.Add(func(c *gin.Context) { trace = append(trace, "a") })
	m.Add(func(c *gin.Context) {
		trace = append(trace, "b")
		if c.Query("block") != "" {
			c.AbortWithStatus(http.StatusTeapot)
		}
	})
	r := gin.New()
	r.Use(m.Use())
	r.GET("/", func(c *gin.Context) {
		trace = append(trace, "h")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "h"}, trace)

	trace = nil
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?block=1", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, []string{"a", "b"}, trace)

	m.Clear()
	trace = nil
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"h"}, trace)
}

func TestOriginPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Origin(nil))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://any.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://any.example", w.Header().Get("Access-Control-Allow-Origin"))
}
