package ack

import "html/template"

// The pages are deliberately self-contained: no external assets, so
// they render on a phone with no network beyond this one request.
const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Emergency alarm</title>
<style>
body { font-family: sans-serif; max-width: 34rem; margin: 2rem auto; padding: 0 1rem; }
h1 { color: #b00020; }
dl { display: grid; grid-template-columns: auto 1fr; gap: .3rem .8rem; }
dt { font-weight: bold; }
form { margin-top: 1.5rem; }
label { display: block; margin-top: .8rem; }
input, textarea { width: 100%; padding: .4rem; }
button { margin-top: 1rem; padding: .6rem 1.4rem; background: #b00020; color: #fff; border: 0; font-size: 1rem; }
.done { color: #1b5e20; font-weight: bold; }
</style>
</head>
<body>
<h1>Emergency alarm</h1>
<dl>
<dt>Person</dt><dd>{{.PersonName}}</dd>
<dt>Location</dt><dd>{{.RoomLabel}}{{if .SiteName}} ({{.SiteName}}){{end}}</dd>
<dt>Time</dt><dd>{{.CreatedAt}}</dd>
<dt>Status</dt><dd>{{.Status}}</dd>
</dl>
{{if .Acknowledged}}
<p class="done">This alarm has already been acknowledged.</p>
{{else if .Terminal}}
<p class="done">This alarm is closed.</p>
{{else}}
<form method="post">
<label for="acked_by">Your name</label>
<input id="acked_by" name="acked_by" maxlength="120" required>
<label for="note">Note (optional)</label>
<textarea id="note" name="note" maxlength="2000" rows="3"></textarea>
<button type="submit">Acknowledge alarm</button>
</form>
{{end}}
</body>
</html>
`

const confirmedHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Alarm acknowledged</title>
<style>
body { font-family: sans-serif; max-width: 34rem; margin: 2rem auto; padding: 0 1rem; }
h1 { color: #1b5e20; }
</style>
</head>
<body>
<h1>Alarm acknowledged</h1>
<p>Thank you, {{.AckedBy}}. The alarm for {{.PersonName}} has been taken off the escalation queue.</p>
</body>
</html>
`

var (
	pageTmpl      = template.Must(template.New("page").Parse(pageHTML))
	confirmedTmpl = template.Must(template.New("confirmed").Parse(confirmedHTML))
)
