package router

import (
	"errors"
	"net/http"

	"emcp-client/internal/clients"
	"emcp-client/internal/services"
	"emcp-client/internal/ui"

	"github.com/gin-gonic/gin"
)

// GinSurface exposes a ui.Registry over HTTP so a browser page can forward its clicks and submits
type GinSurface struct {
	*ui.Registry
}

func NewGinSurface() *GinSurface {
	return &GinSurface{Registry: ui.NewRegistry()}
}

// clickRequest POST /ui/click/:action body
type clickRequest struct {
	Target string            `json:"target"`
	Values map[string]string `json:"values"`
}

var flowStatus = map[services.ErrorKind]int{
	services.KindMissingCredential:  http.StatusUnauthorized,
	services.KindPaymentCancelled:   http.StatusConflict,
	services.KindWalletUnavailable:  http.StatusServiceUnavailable,
	services.KindPaymentFailed:      http.StatusPaymentRequired,
	services.KindPaymentNotHonored:  http.StatusPaymentRequired,
	services.KindMalformedChallenge: http.StatusBadGateway,
	services.KindInvocationFailed:   http.StatusBadGateway,
}

// ListEvents GET /ui/actions
func (s *GinSurface) ListEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"actions": s.Actions(),
		"forms":   s.Forms(),
	})
}

// HandleClick POST /ui/click/:action
func (s *GinSurface) HandleClick(c *gin.Context) {
	var req clickRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid request format",
				"message": err.Error(),
				"code":    "INVALID_REQUEST",
			})
			return
		}
	}

	out, err := s.Click(c.Request.Context(), c.Param("action"), ui.Event{Target: req.Target, Values: req.Values})
	respond(c, out, err)
}

// HandleSubmit POST /ui/submit/:form
// Accepts a flat JSON object or an urlencoded/multipart form.
func (s *GinSurface) HandleSubmit(c *gin.Context) {
	values := map[string]string{}
	if c.ContentType() == gin.MIMEJSON {
		if err := c.ShouldBindJSON(&values); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid request format",
				"message": err.Error(),
				"code":    "INVALID_REQUEST",
			})
			return
		}
	} else {
		if err := c.Request.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid form",
				"message": err.Error(),
				"code":    "INVALID_REQUEST",
			})
			return
		}
		for key, v := range c.Request.PostForm {
			if len(v) > 0 {
				values[key] = v[0]
			}
		}
	}

	out, err := s.Submit(c.Request.Context(), c.Param("form"), ui.Event{Target: values["target"], Values: values})
	respond(c, out, err)
}

func respond(c *gin.Context, out interface{}, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
		return
	}

	if errors.Is(err, ui.ErrUnknownEvent) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Unknown action",
			"message": err.Error(),
			"code":    "UNKNOWN_EVENT",
		})
		return
	}

	if kind := services.KindOf(err); kind != "" {
		c.JSON(flowStatus[kind], gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    string(kind),
		})
		return
	}

	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   apiErr.Detail,
			"message": err.Error(),
			"code":    "UPSTREAM_ERROR",
		})
		return
	}

	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    "ACTION_FAILED",
	})
}
