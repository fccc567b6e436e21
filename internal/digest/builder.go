// Package digest renders a run report as a summary email.
package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/ibeckermayer/instaflow/internal/types"
)

// Builder creates summary emails from run reports
type Builder struct {
	template *template.Template
}

// New creates a new digest builder
func New() (*Builder, error) {
	tmpl, err := template.New("digest").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Builder{template: tmpl}, nil
}

// Digest represents a compiled summary ready for sending
type Digest struct {
	Subject   string
	HTMLBody  string
	PlainBody string
	RunID     string
	CreatedAt time.Time
}

// DigestData is the template data structure
type DigestData struct {
	Title  string
	Date   string
	Search string
	Posts  int
	Result string
	Failed bool
	Took   string
	Steps  []StepData
	Stats  StatsData
	RunID  string
}

// StepData represents a step row in the template
type StepData struct {
	Index  int
	Name   string
	Status string
	Took   string
	Error  string
}

// StatsData contains step counts
type StatsData struct {
	OK      int
	Skipped int
	Failed  int
}

// Build creates a digest from a finished run
func (b *Builder) Build(r *types.RunReport) (*Digest, error) {
	if r == nil {
		return nil, fmt.Errorf("no run to summarize")
	}

	result := "succeeded"
	if !r.Succeeded() {
		result = "failed"
	}

	data := DigestData{
		Title:  fmt.Sprintf("instaflow run %s", result),
		Date:   r.StartedAt.Local().Format("Monday, January 2 15:04"),
		Search: r.Search,
		Posts:  r.PostCount,
		Result: r.Err,
		Failed: !r.Succeeded(),
		Took:   r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String(),
		Steps:  make([]StepData, len(r.Steps)),
		Stats: StatsData{
			OK:      r.Count(types.StatusOK),
			Skipped: r.Count(types.StatusSkipped),
			Failed:  r.Count(types.StatusFailed),
		},
		RunID: r.ID,
	}

	for i, st := range r.Steps {
		data.Steps[i] = StepData{
			Index:  st.Index,
			Name:   st.Name,
			Status: string(st.Status),
			Took:   st.Duration.Round(time.Millisecond).String(),
			Error:  truncate(st.Error, 200),
		}
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Digest{
		Subject:   fmt.Sprintf("instaflow: %q run %s, %s", r.Search, result, r.StartedAt.Local().Format("Jan 2")),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		RunID:     r.ID,
		CreatedAt: time.Now(),
	}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func buildPlainText(data DigestData) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("%s\n%s\n\n", data.Title, data.Date))
	buf.WriteString(fmt.Sprintf("Search %q, %d posts, took %s\n", data.Search, data.Posts, data.Took))
	if data.Failed {
		buf.WriteString(fmt.Sprintf("Error: %s\n", data.Result))
	}
	buf.WriteString("\n")

	for _, st := range data.Steps {
		buf.WriteString(fmt.Sprintf("%2d. %-28s %-8s %s\n", st.Index, st.Name, st.Status, st.Took))
		if st.Error != "" {
			buf.WriteString(fmt.Sprintf("    %s\n", st.Error))
		}
	}

	buf.WriteString(fmt.Sprintf("\n%d ok, %d skipped, %d failed. Run %s\n",
		data.Stats.OK, data.Stats.Skipped, data.Stats.Failed, data.RunID))
	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #c13584; margin-bottom: 5px; }
        h1.failed { color: #d32f2f; }
        .date { color: #666; margin-bottom: 20px; }
        .error { background: #fdecea; color: #d32f2f; padding: 10px; border-radius: 4px; margin-bottom: 15px; }
        table { width: 100%; border-collapse: collapse; font-size: 14px; }
        td { border-bottom: 1px solid #eee; padding: 6px 4px; vertical-align: top; }
        .ok { color: #2e7d32; }
        .skipped { color: #999; }
        .failed { color: #d32f2f; }
        .detail { color: #999; font-size: 12px; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1{{if .Failed}} class="failed"{{end}}>{{.Title}}</h1>
        <div class="date">{{.Date}} · search "{{.Search}}" · {{.Posts}} posts · {{.Took}}</div>

        {{if .Failed}}<div class="error">{{.Result}}</div>{{end}}

        <table>
        {{range .Steps}}
            <tr>
                <td>{{.Index}}</td>
                <td>{{.Name}}{{if .Error}}<div class="detail">{{.Error}}</div>{{end}}</td>
                <td class="{{.Status}}">{{.Status}}</td>
                <td>{{.Took}}</td>
            </tr>
        {{end}}
        </table>

        <div class="footer">
            {{.Stats.OK}} ok · {{.Stats.Skipped}} skipped · {{.Stats.Failed}} failed · run {{.RunID}}
        </div>
    </div>
</body>
</html>`
