package service

import (
	"bytes"
	"html/template"
)

var actionMailTemplate = template.Must(template.New("action").Parse(`<html><body>
<p>Dear {{.Recipient}},</p>
<p>Maintenance request <b>#{{.RequestID}}</b> for asset <b>{{.Asset}}</b> is awaiting your {{.Stage}}.</p>
{{if .Description}}<p>{{.Description}}</p>{{end}}
<p>
<a href="{{.ProceedURL}}">Proceed</a> &nbsp;|&nbsp; <a href="{{.RejectURL}}">Reject</a>
</p>
<p>This link expires on {{.ExpiresAt}}.</p>
</body></html>`))

var statusMailTemplate = template.Must(template.New("status").Parse(`<html><body>
<p>Dear {{.Recipient}},</p>
<p>Maintenance request <b>#{{.RequestID}}</b> for asset <b>{{.Asset}}</b> is now <b>{{.Status}}</b>.</p>
{{if .Comment}}<p>Comment: {{.Comment}}</p>{{end}}
</body></html>`))

type actionMailData struct {
	Recipient   string
	RequestID   int64
	Asset       string
	Stage       string
	Description string
	ProceedURL  template.URL
	RejectURL   template.URL
	ExpiresAt   string
}

type statusMailData struct {
	Recipient string
	RequestID int64
	Asset     string
	Status    string
	Comment   string
}

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
