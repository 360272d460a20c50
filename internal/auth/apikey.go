package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	apiKeyHeader  = "X-API-Key"
	ownerIDHeader = "X-Owner-ID"
)

var (
	errInvalidAPIKey = errors.New("invalid API key")
	errMissingOwner  = errors.New("missing " + ownerIDHeader + " header")
)

// ownerFromAPIKey authenticates a trusted caller (an upstream gateway) by its
// API key and takes the owner identity from the X-Owner-ID header.
func ownerFromAPIKey(c *gin.Context, apiKey string) (string, error) {
	provided := c.GetHeader(apiKeyHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
		return "", errInvalidAPIKey
	}
	return ownerHeader(c)
}

func ownerHeader(c *gin.Context) (string, error) {
	owner := strings.TrimSpace(c.GetHeader(ownerIDHeader))
	if owner == "" {
		return "", errMissingOwner
	}
	return owner, nil
}
