package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goatkit/phonedesk/internal/auth"
	"github.com/goatkit/phonedesk/internal/models"
)

type fakeParser map[string]error

func (f fakeParser) Parse(token string) (models.Actor, error) {
	if err, ok := f[token]; ok {
		return models.Actor{}, err
	}
	return models.Actor{UserID: 42}, nil
}

func actorRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequireActor(fakeParser{"expired": auth.ErrTokenExpired, "junk": errors.New("bad")}))
	r.GET("/me", func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, actor)
	})
	return r
}

func TestRequireActor(t *testing.T) {
	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "core:unauthorized"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "core:unauthorized"},
		{"expired", "Bearer expired", http.StatusUnauthorized, "core:token_expired"},
		{"invalid", "Bearer junk", http.StatusUnauthorized, "core:invalid_token"},
		{"valid", "bearer good", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			actorRouter().ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Contains(t, w.Body.String(), tt.code)
				return
			}
			var actor models.Actor
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actor))
			assert.Equal(t, int64(42), actor.UserID)
		})
	}
}

func TestRecoveryAndRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	r := gin.New()
	r.Use(RequestLogger(logger), Recovery(logger))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("core:internal_error")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, 1, logs.FilterMessage("panic in handler").Len())
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("request").Len())
}
