package shell

import (
	"html/template"
	"net/http"

	"github.com/jonwraymond/authgate/auth"
	"github.com/jonwraymond/authgate/notify"
)

var pages = template.Must(template.New("shell").Parse(`
{{define "head"}}<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}} · authgate</title></head>
<body>
{{range .Notices}}<p class="notice notice-{{.Level}}" data-code="{{.Code}}">{{.Message}}</p>
{{end}}{{if .Error}}<p class="notice notice-error">{{.Error}}</p>
{{end}}{{end}}

{{define "tail"}}</body>
</html>
{{end}}

{{define "login"}}{{template "head" .}}<h1>Sign in</h1>
<form method="post" action="/login"><button type="submit">Sign in</button></form>
{{template "tail" .}}{{end}}

{{define "dashboard"}}{{template "head" .}}<h1>Dashboard</h1>
{{with .User}}<dl>
<dt>Name</dt><dd>{{.Name}}</dd>
<dt>Email</dt><dd>{{.Email}}</dd>
<dt>ID</dt><dd>{{.ID}}</dd>
</dl>{{end}}
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
{{template "tail" .}}{{end}}
`))

type pageData struct {
	Title   string
	User    *auth.UserInfo
	Notices []notify.Notice
	Error   string
}

func render(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pages.ExecuteTemplate(w, name, data)
}
