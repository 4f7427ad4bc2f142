// internal/web/favicon.go
package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pickaxe on an orange disc
const faviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 32 32" width="32" height="32">
  <circle cx="16" cy="16" r="16" fill="#f7931a"/>
  <g fill="none" stroke="#ffffff" stroke-width="2.5" stroke-linecap="round">
    <path d="M 7,12 Q 16,4 25,12"/>
    <line x1="16" y1="8" x2="16" y2="26"/>
  </g>
</svg>`

func (s *Server) serveFavicon(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=31536000")
	c.Data(http.StatusOK, "image/svg+xml", []byte(faviconSVG))
}
