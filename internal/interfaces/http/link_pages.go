package http

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/garyjia/fleet-maintenance/internal/application/service"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

// Emailed links land on a confirmation form so that link scanners and
// prefetchers following the GET never change a request.
var linkPages = template.Must(template.New("link_confirm").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta name="robots" content="noindex"><title>Confirm decision</title></head>
<body>
<p>You are about to <b>{{.Decision}}</b> this maintenance request.</p>
<form method="post" action="{{.Action}}">
<input type="hidden" name="token" value="{{.Token}}">
<input type="hidden" name="decision" value="{{.Decision}}">
<p><label>Comment<br><textarea name="comment" rows="3" cols="60"></textarea></label></p>
<p><button type="submit">Confirm {{.Decision}}</button></p>
</form>
</body></html>`))

func init() {
	template.Must(linkPages.New("link_done").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Decision recorded</title></head>
<body>
<p>Maintenance request #{{.RequestID}} is now <b>{{.State}}</b>.</p>
</body></html>`))
}

// ConfirmLink handles GET /api/v1/links/authorize. It renders the form that
// posts the decision back and never applies it itself.
func (h *Handlers) ConfirmLink(c *gin.Context) {
	var q LinkRequest
	if err := c.ShouldBindQuery(&q); err != nil || q.Token == "" {
		h.badRequest(c, "invalid link parameters")
		return
	}
	decision := domainwf.Decision(q.Decision)
	if decision != domainwf.DecisionProceed && decision != domainwf.DecisionReject {
		h.badRequest(c, "invalid link parameters")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Referrer-Policy", "no-referrer")
	c.HTML(http.StatusOK, "link_confirm", gin.H{
		"Action":   c.Request.URL.Path,
		"Token":    q.Token,
		"Decision": string(decision),
	})
}

// linkDone answers a browser form submission with a page instead of JSON
func linkDone(c *gin.Context, result *service.ApplyResult) bool {
	if c.ContentType() != binding.MIMEPOSTForm || result == nil || result.View == nil || result.View.Request == nil {
		return false
	}
	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, "link_done", gin.H{
		"RequestID": result.View.Request.ID,
		"State":     result.View.State,
	})
	return true
}
