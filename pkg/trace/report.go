package trace

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Report formats.
const (
	FormatJSON = "json"
	FormatHTML = "html"
	FormatNone = "none"
)

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []*Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if records == nil {
		records = []*Record{}
	}
	return enc.Encode(records)
}

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"json": func(v any) string {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	},
	"deref": func(b *bool) bool { return b != nil && *b },
	"stepName": func(step map[string]any) string {
		for k := range step {
			return k
		}
		return ""
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>catcher report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.OK { color: #2e7d32; }
.FAIL { color: #c62828; }
details { margin: 0.3em 0 0.3em 1.5em; }
pre { background: #f5f5f5; padding: 0.5em; overflow-x: auto; }
</style>
</head>
<body>
<h1>catcher report</h1>
{{range .}}
<details>
<summary><span class="{{.Status}}">{{.Status}}</span> {{.Type}} {{.File}}{{if .Comment}}: {{.Comment}}{{end}}</summary>
<p>{{.StartTime.Format "2006-01-02T15:04:05Z07:00"}} to {{.EndTime.Format "2006-01-02T15:04:05Z07:00"}}</p>
{{range .Output}}{{if .Success}}
<details>
<summary>{{if deref .Success}}<span class="OK">OK</span>{{else}}<span class="FAIL">FAIL</span>{{end}} {{stepName .Step}}</summary>
<pre>{{json .Step}}</pre>
{{if .Output}}<pre>{{json .Output}}</pre>{{end}}
</details>
{{end}}{{end}}
</details>
{{end}}
</body>
</html>
`))

// WriteHTML renders records as a single HTML page.
func WriteHTML(w io.Writer, records []*Record) error {
	return htmlReport.Execute(w, records)
}

// WriteReport writes records to dir/report.<format>. FormatNone and an empty
// format write nothing.
func WriteReport(dir, format string, records []*Record) (string, error) {
	format = strings.ToLower(format)
	if format == "" || format == FormatNone {
		return "", nil
	}
	var write func(io.Writer, []*Record) error
	switch format {
	case FormatJSON:
		write = WriteJSON
	case FormatHTML:
		write = WriteHTML
	default:
		return "", fmt.Errorf("unknown report format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, "report."+format)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()
	if err := write(f, records); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
