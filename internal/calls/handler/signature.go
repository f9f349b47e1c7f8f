package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crm_backend/platform/httpkit"
	"crm_backend/platform/logger"
)

const (
	// HeaderSignature carries the hex HMAC-SHA256 of the raw request body.
	HeaderSignature = "X-Retell-Signature"
	maxWebhookBody  = 1 << 20
)

// SignatureMiddleware authenticates provider webhooks. An empty secret disables the
// check; configuration refuses that outside development.
func SignatureMiddleware(secret string, log *logger.Logger) gin.HandlerFunc {
	if secret == "" {
		log.Warn("webhook signature verification disabled: no secret configured")
	}

	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, "unable to read request body", nil)
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if secret != "" && !validSignature(secret, body, c.GetHeader(HeaderSignature)) {
			log.Warn("webhook signature rejected", "ip", c.ClientIP())
			httpkit.Error(c, http.StatusUnauthorized, "invalid webhook signature", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Sign returns the signature expected for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	provided, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
