package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HeaderBridgeToken carries the bridge token for browsers that cannot set Authorization on websockets
const HeaderBridgeToken = "X-EMCP-Token"

// LocalhostOnly middleware - only allow localhost or whitelisted IPs access
type LocalhostOnly struct {
	logger     *logrus.Logger
	allowedIPs []string // exact IPs or CIDR ranges
}

// NewLocalhostOnly creates the access restriction middleware
func NewLocalhostOnly(logger *logrus.Logger, allowedIPs []string) *LocalhostOnly {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LocalhostOnly{
		logger:     logger,
		allowedIPs: allowedIPs,
	}
}

// Restrict rejects clients that are neither loopback nor whitelisted
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return l.RestrictWithToken("")
}

// RestrictWithToken combines the IP restriction with a shared token check.
// The token is read from Authorization: Bearer, X-EMCP-Token, or the token query parameter.
func (l *LocalhostOnly) RestrictWithToken(requiredToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		remoteIP, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			remoteIP = c.Request.RemoteAddr
		}

		// the bridge is never behind a proxy, so the socket peer is authoritative
		if !l.isAllowedIP(remoteIP) {
			l.logger.WithFields(logrus.Fields{
				"remote_ip":  remoteIP,
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
				"user_agent": c.GetHeader("User-Agent"),
			}).Warn("🚫 [LocalhostOnly] Rejected non-whitelisted client")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "This API is only accessible from allowed IP addresses",
				"code":    "IP_NOT_ALLOWED",
			})
			return
		}

		if requiredToken != "" && !tokenMatches(requestToken(c), requiredToken) {
			l.logger.WithFields(logrus.Fields{
				"remote_ip": remoteIP,
				"path":      c.Request.URL.Path,
			}).Warn("🚫 [LocalhostOnly] Bridge token verification failed")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid bridge token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		c.Next()
	}
}

func requestToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if token := c.GetHeader(HeaderBridgeToken); token != "" {
		return token
	}
	return c.Query("token")
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// isLocalhost Check if IP is localhost
func isLocalhost(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return ip == "localhost"
	}
	return parsedIP.IsLoopback()
}

// isAllowedIP Check if IP is loopback or in the whitelist (supports CIDR)
func (l *LocalhostOnly) isAllowedIP(ip string) bool {
	if isLocalhost(ip) {
		return true
	}
	if len(l.allowedIPs) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, allowed := range l.allowedIPs {
		allowed = strings.TrimSpace(allowed)

		if strings.Contains(allowed, "/") {
			_, ipNet, err := net.ParseCIDR(allowed)
			if err != nil {
				l.logger.WithFields(logrus.Fields{
					"allowed": allowed,
					"error":   err.Error(),
				}).Warn("⚠️ [LocalhostOnly] Invalid CIDR in allowedIPs")
				continue
			}
			if ipNet.Contains(parsedIP) {
				return true
			}
			continue
		}

		if allowedIP := net.ParseIP(allowed); allowedIP != nil && allowedIP.Equal(parsedIP) {
			return true
		}
	}

	l.logger.WithFields(logrus.Fields{
		"ip":         ip,
		"allowedIPs": l.allowedIPs,
	}).Debug("IP not found in whitelist")
	return false
}
