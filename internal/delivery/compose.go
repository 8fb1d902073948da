package delivery

import (
	"bytes"
	"html/template"
	"time"

	"github.com/Infix8/qrflow-backend/internal/models"
)

const codeAttachmentName = "entry-pass.png"

var passTemplate = template.Must(template.New("pass").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<p>Hi {{.Name}},</p>
<p>You are registered for <strong>{{.Event}}</strong>.</p>
<table>
<tr><td>When</td><td>{{.When}}</td></tr>
{{if .Venue}}<tr><td>Where</td><td>{{.Venue}}</td></tr>{{end}}
<tr><td>Roll number</td><td>{{.Roll}}</td></tr>
</table>
<p>Show this code at the entrance:</p>
<p><img src="cid:` + codeAttachmentName + `" alt="Entry pass" width="256" height="256"></p>
{{if .Link}}<p>Trouble viewing it? <a href="{{.Link}}">Download your pass</a>.</p>{{end}}
<p>The pass admits one person once and stops working a day after the event.</p>
</body></html>`))

type passView struct {
	Name, Event, When, Venue, Roll, Link string
}

// ComposePass builds the entry-pass email for an attendee. link may be empty.
func ComposePass(ev *models.Event, a *models.Attendee, png []byte, link string, loc *time.Location) (Message, error) {
	if loc == nil {
		loc = time.UTC
	}
	view := passView{
		Name:  a.Name,
		Event: ev.Name,
		When:  ev.Date.In(loc).Format("Monday, 02 Jan 2006 at 03:04 PM"),
		Venue: ev.Venue,
		Roll:  a.RollNumber,
		Link:  link,
	}
	var html bytes.Buffer
	if err := passTemplate.Execute(&html, view); err != nil {
		return Message{}, err
	}
	text := "Hi " + a.Name + ",\n\nYou are registered for " + ev.Name + " on " + view.When +
		".\nYour entry pass is attached. Show it at the entrance.\n"
	if link != "" {
		text += "\nDownload: " + link + "\n"
	}
	return Message{
		To:      a.Email,
		ToName:  a.Name,
		Subject: "Your entry pass for " + ev.Name,
		HTML:    html.String(),
		Text:    text,
		Attachments: []Attachment{{
			Name:        codeAttachmentName,
			ContentType: "image/png",
			Data:        png,
			Inline:      true,
		}},
	}, nil
}
