package telephony

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	twilioclient "github.com/twilio/twilio-go/client"

	"voicecampaign_backend/platform/config"
)

// Signature validation modes.
const (
	SignatureModeWarn   = "warn"
	SignatureModeReject = "reject"
)

// SignatureMiddleware validates the provider's HMAC request signature.
// The signature covers the canonical public URL plus the sorted form
// parameters, keyed by the account auth token. In warn mode a bad
// signature is logged and the request proceeds; in reject mode it is
// answered with 403.
func SignatureMiddleware(cfg config.TelephonyConfig, log *slog.Logger) gin.HandlerFunc {
	validator := twilioclient.NewRequestValidator(cfg.GetTwilioAuthToken())
	baseURL := cfg.GetPublicBaseURL()
	reject := cfg.GetSignatureMode() == SignatureModeReject

	return func(c *gin.Context) {
		signature := c.GetHeader("X-Twilio-Signature")

		params := map[string]string{}
		if c.Request.Method == http.MethodPost {
			if err := c.Request.ParseForm(); err == nil {
				for key, values := range c.Request.PostForm {
					if len(values) > 0 {
						params[key] = values[0]
					}
				}
			}
		}

		// The provider signs the URL it was given, which is the public
		// one, not whatever host the proxy rewrote.
		fullURL := baseURL + c.Request.URL.RequestURI()

		if signature != "" && validator.Validate(fullURL, params, signature) {
			c.Next()
			return
		}

		log.Warn("webhook signature invalid",
			slog.String("path", c.Request.URL.Path),
			slog.Bool("signature_present", signature != ""),
			slog.Bool("rejected", reject),
		)

		if reject {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
