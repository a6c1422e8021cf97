package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"finopstrack/internal/core"
)

const textBody = `Task: {{.TaskName}} ({{.TaskHumanID}})
Subtask: {{.SubtaskName}}
Scheduled start: {{.StartTime}}
Assignee: {{.Assignee}}
{{- if eq .Kind "subtask_delayed"}}
Marked delayed by {{.Actor}}.
Reason: {{.DelayReason}}
{{- if .DelayNotes}}
Notes: {{.DelayNotes}}
{{- end}}
{{- else if eq .Kind "subtask_completed"}}
Completed by {{.Actor}}.
{{- else if eq .Kind "subtask_overdue"}}
Not started {{.MinutesOverdue}} minutes after its scheduled start.
{{- else if eq .Kind "long_running"}}
In progress for {{.RunningFor}}.
{{- end}}
Time: {{.OccurredAt}}
`

const htmlBody = `<html><body style="font-family:sans-serif">
<h3 style="color:{{.Color}}">{{.Heading}}</h3>
<table cellpadding="4">
<tr><td><b>Task</b></td><td>{{.TaskName}} ({{.TaskHumanID}})</td></tr>
<tr><td><b>Subtask</b></td><td>{{.SubtaskName}}</td></tr>
<tr><td><b>Scheduled start</b></td><td>{{.StartTime}}</td></tr>
<tr><td><b>Assignee</b></td><td>{{.Assignee}}</td></tr>
{{- if .Actor}}
<tr><td><b>Updated by</b></td><td>{{.Actor}}</td></tr>
{{- end}}
{{- if .DelayReason}}
<tr><td><b>Delay reason</b></td><td>{{.DelayReason}}</td></tr>
{{- end}}
{{- if .DelayNotes}}
<tr><td><b>Notes</b></td><td>{{.DelayNotes}}</td></tr>
{{- end}}
{{- if .MinutesOverdue}}
<tr><td><b>Minutes overdue</b></td><td>{{.MinutesOverdue}}</td></tr>
{{- end}}
{{- if .RunningFor}}
<tr><td><b>Running for</b></td><td>{{.RunningFor}}</td></tr>
{{- end}}
<tr><td><b>Time</b></td><td>{{.OccurredAt}}</td></tr>
</table>
</body></html>
`

var (
	textTmpl = texttemplate.Must(texttemplate.New("text").Parse(textBody))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(htmlBody))
)

type view struct {
	Kind           string
	Heading        string
	Color          string
	TaskName       string
	TaskHumanID    string
	SubtaskName    string
	StartTime      string
	Assignee       string
	Actor          string
	DelayReason    string
	DelayNotes     string
	MinutesOverdue int
	RunningFor     string
	OccurredAt     string
}

// Render turns a notification into a message, formatting times in loc.
func Render(n core.Notification, loc *time.Location) (Message, error) {
	if loc == nil {
		loc = time.UTC
	}
	v := view{
		Kind:           string(n.Kind),
		TaskName:       n.TaskName,
		TaskHumanID:    n.TaskHumanID,
		SubtaskName:    n.SubtaskName,
		StartTime:      n.StartTime,
		Assignee:       n.Assignee,
		Actor:          n.Actor,
		DelayReason:    humanize(n.DelayReason),
		DelayNotes:     n.DelayNotes,
		MinutesOverdue: n.MinutesOverdue,
		OccurredAt:     n.OccurredAt.In(loc).Format("2006-01-02 15:04 MST"),
	}
	if n.RunningFor > 0 {
		v.RunningFor = n.RunningFor.Round(time.Minute).String()
	}
	var subject string
	switch n.Kind {
	case core.NotifySubtaskDelayed:
		subject = fmt.Sprintf("[Delayed] %s: %s", n.TaskName, n.SubtaskName)
		v.Heading, v.Color = "Subtask delayed", "#d97706"
	case core.NotifySubtaskCompleted:
		subject = fmt.Sprintf("[Completed] %s: %s", n.TaskName, n.SubtaskName)
		v.Heading, v.Color = "Subtask completed", "#16a34a"
	case core.NotifySubtaskOverdue:
		subject = fmt.Sprintf("[Overdue] %s: %s", n.TaskName, n.SubtaskName)
		v.Heading, v.Color = "Subtask overdue", "#dc2626"
	case core.NotifyLongRunning:
		subject = fmt.Sprintf("[Reminder] %s: %s still in progress", n.TaskName, n.SubtaskName)
		v.Heading, v.Color = "Subtask still in progress", "#2563eb"
	default:
		return Message{}, fmt.Errorf("unknown notification kind %q", n.Kind)
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, v); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	if err := htmlTmpl.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	return Message{
		To:      append([]string(nil), n.Recipients...),
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func humanize(code string) string {
	if code == "" {
		return ""
	}
	s := strings.ReplaceAll(code, "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}
