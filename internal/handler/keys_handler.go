package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	jose "github.com/go-jose/go-jose/v4"

	"github.com/noah-isme/authd/pkg/discovery"
	"github.com/noah-isme/authd/pkg/response"
)

// KeysHandler serves the public key set and the discovery document.
type KeysHandler struct {
	keys           jose.JSONWebKeySet
	document       discovery.Document
	jwksCache      string
	discoveryCache string
}

// NewKeysHandler precomputes the Cache-Control values. Key material is fixed
// for the life of the process.
func NewKeysHandler(keys jose.JSONWebKeySet, document discovery.Document, jwksMaxAge, jwksRevalidate, discoveryTTL time.Duration) *KeysHandler {
	return &KeysHandler{
		keys:           keys,
		document:       document,
		jwksCache:      fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", seconds(jwksMaxAge), seconds(jwksRevalidate)),
		discoveryCache: fmt.Sprintf("public, max-age=%d", seconds(discoveryTTL)),
	}
}

// JWKS godoc
// @Summary Public key set
// @Description Keys that verify access tokens issued by this service
// @Tags Keys
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /auth/jwks [get]
func (h *KeysHandler) JWKS(c *gin.Context) {
	response.Cached(c, h.jwksCache, h.keys)
}

// Discovery godoc
// @Summary Discovery document
// @Description Issuer, audience, key set location and endpoint paths
// @Tags Keys
// @Produce json
// @Success 200 {object} discovery.Document
// @Router /.well-known/authd-configuration [get]
func (h *KeysHandler) Discovery(c *gin.Context) {
	response.Cached(c, h.discoveryCache, h.document)
}

func seconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
