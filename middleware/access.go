package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// IPWhitelist lets through only clients matching one of entries, each a
// literal IP or a CIDR. An empty list allows everyone.
func IPWhitelist(entries []string) gin.HandlerFunc {
	var nets []*net.IPNet
	exact := make(map[string]bool)
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if _, n, err := net.ParseCIDR(e); err == nil {
			nets = append(nets, n)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			exact[ip.String()] = true
		}
	}
	open := len(entries) == 0
	return func(c *gin.Context) {
		if open || allowedIP(c.ClientIP(), exact, nets) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
	}
}

func allowedIP(raw string, exact map[string]bool, nets []*net.IPNet) bool {
	ip := net.ParseIP(raw)
	if ip == nil {
		return false
	}
	if exact[ip.String()] {
		return true
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// AdminKey requires the X-Admin-Key header to equal key. With an empty key
// every admin request gets 503 so a missing setting never opens the routes.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		got := c.GetHeader("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
