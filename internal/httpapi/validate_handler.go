package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"api_gateway/internal/middleware"
	"api_gateway/internal/pipeline"
)

// ValidateRequest is the body of POST /v1/validate. Credential headers are
// used when the body omits them.
type ValidateRequest struct {
	PublicKey string `json:"public_key"`
	Secret    string `json:"secret"`
	Endpoint  string `json:"endpoint"`
	Method    string `json:"method"`
}

// handleValidate answers whether a credential would be admitted, with the
// outcome's status code.
func (d *Dependencies) handleValidate(c *gin.Context) {
	var body ValidateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	if body.PublicKey == "" && body.Secret == "" {
		body.PublicKey, body.Secret, _ = middleware.ExtractCredentials(c.Request)
	}

	req := pipeline.Request{
		PublicKey: body.PublicKey,
		Secret:    body.Secret,
		RequestID: middleware.GetRequestID(c),
		Endpoint:  body.Endpoint,
		Method:    body.Method,
		SourceIP:  c.ClientIP(),
	}
	if req.Endpoint == "" {
		req.Endpoint = c.Request.URL.Path
	}
	if req.Method == "" {
		req.Method = c.Request.Method
	}

	outcome := d.Validator.Validate(c.Request.Context(), req)
	c.JSON(outcome.HTTPStatus, outcome)
}
