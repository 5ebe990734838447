package web

import (
	"html/template"
	"net/http"
	"strings"

	"telegram-weather-bot/internal/domain/model"
)

type loginView struct {
	Error string
}

type adminView struct {
	Users      []*model.User
	BotToken   string
	WeatherKey string
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

const pageStyle = `<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;background:#f7f7f9}
.card{max-width:960px;margin:auto;background:#fff;border:1px solid #ddd;border-radius:12px;padding:24px}
table{width:100%;border-collapse:collapse}th,td{padding:8px 12px;border-bottom:1px solid #eee;text-align:left}
button{padding:6px 12px;border-radius:6px;border:1px solid #888;background:#fff;cursor:pointer}
.danger{color:#b00020}.muted{color:#666;font-size:12px}.err{color:#b00020}
input{padding:6px;margin:4px 0;width:100%;box-sizing:border-box}
</style>`

var landingPage = template.Must(template.New("landing").Parse(`<!doctype html>
<html lang="en"><head><meta charset="utf-8"/><title>Weather Bot</title>` + pageStyle + `</head>
<body><div class="card">
<h2>Weather Bot</h2>
<p>The bot is running. Open Telegram and send <code>/start</code> to get weather updates.</p>
<p class="muted"><a href="/admin/login">Admin panel</a></p>
</div></body></html>`))

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html lang="en"><head><meta charset="utf-8"/><title>Admin login</title>` + pageStyle + `</head>
<body><div class="card" style="max-width:360px">
<h2>Admin login</h2>
{{if .Error}}<p class="err">{{.Error}}</p>{{end}}
<form method="post" action="/admin/login">
<label>Username<input name="username" autocomplete="username"/></label>
<label>Password<input name="password" type="password" autocomplete="current-password"/></label>
<button type="submit">Sign in</button>
</form>
</div></body></html>`))

var adminPage = template.Must(template.New("admin").Funcs(funcs).Parse(`<!doctype html>
<html lang="en"><head><meta charset="utf-8"/><title>Weather Bot Admin</title>` + pageStyle + `</head>
<body><div class="card">
<div style="display:flex;justify-content:space-between;align-items:center">
<h2>Users</h2>
<form method="post" action="/admin/logout"><button type="submit">Log out</button></form>
</div>
<table>
<thead><tr><th>Chat ID</th><th>City history</th><th>Subscribed</th><th>Blocked</th><th>Actions</th></tr></thead>
<tbody>
{{range .Users}}
<tr>
<td>{{.ChatID}}</td>
<td>{{if .CityHistory}}{{join .CityHistory ", "}}{{else}}N/A{{end}}</td>
<td>{{if .IsSubscribed}}Yes{{else}}No{{end}}</td>
<td>{{if .IsBlocked}}Yes{{else}}No{{end}}</td>
<td style="display:flex;gap:6px">
<form method="post" action="/admin/block/{{.ChatID}}"><button type="submit">{{if .IsBlocked}}Unblock{{else}}Block{{end}}</button></form>
<form method="post" action="/admin/delete/{{.ChatID}}"><button type="submit" class="danger">Delete</button></form>
</td>
</tr>
{{else}}
<tr><td colspan="5" class="muted">No users yet.</td></tr>
{{end}}
</tbody>
</table>

<h2>Settings</h2>
<form method="post" action="/admin/update-settings">
<label>Telegram bot token <span class="muted">(current: {{.BotToken}})</span>
<input name="telegram_bot_token" autocomplete="off"/></label>
<label>OpenWeatherMap API key <span class="muted">(current: {{.WeatherKey}})</span>
<input name="openweathermap_api_key" autocomplete="off"/></label>
<button type="submit">Save</button>
<p class="muted">A new bot token is used after the next restart. The weather key applies immediately.</p>
</form>
</div></body></html>`))

func renderHTML(w http.ResponseWriter, status int, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = t.Execute(w, data)
}
