package handlers

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/service"
)

type dashboardView struct {
	Stats       domain.Stats
	Progress    service.Progress
	Marks       []string
	DeadLetters []deadLetterView
}

type deadLetterView struct {
	Timestamp string
	JobID     string
	Pipeline  string
	Kind      string
	Message   string
	Context   string
}

var dashboardFuncs = template.FuncMap{
	"targetLabel": func(key string) string { return strings.ReplaceAll(key, "_", " ") },
}

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(dashboardFuncs).Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="15">
<title>データセット生成ハブ</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; color: #333; max-width: 95%; margin: 20px auto; }
h1, h2 { border-bottom: 2px solid #f0f0f0; padding-bottom: 8px; }
.stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(150px, 1fr)); gap: 16px; }
.card { background: #f9f9f9; border: 1px solid #ddd; padding: 12px; border-radius: 8px; text-align: center; }
.card .number { font-size: 2em; font-weight: bold; }
.pending { color: #6c757d; background: #f8f9fa; }
.processing { color: #0d6efd; background: #e7f1ff; }
.completed { color: #198754; background: #e8f5e9; }
.failed { color: #dc3545; background: #ffebee; }
table { width: 100%; border-collapse: collapse; margin-top: 12px; }
th, td { border: 1px solid #ddd; padding: 6px; font-size: 0.85em; }
.matrix td { text-align: center; }
.matrix td div { margin-bottom: 2px; border-radius: 4px; font-weight: bold; }
.paper { text-align: left; font-weight: bold; white-space: nowrap; }
.error { white-space: pre-wrap; word-break: break-all; max-height: 100px; overflow-y: auto; background: #eee; padding: 4px; }
</style>
<script>
function resubmitJob(button) {
  if (!confirm('このジョブを再実行しますか？')) return;
  fetch('/resubmit-job', {method: 'POST', headers: {'Content-Type': 'application/json'}, body: button.dataset.context})
    .then(res => res.json())
    .then(data => { alert(data.message || (data.error && data.error.message)); window.location.reload(); })
    .catch(() => alert('再実行リクエストに失敗しました。'));
}
</script>
</head>
<body>
<h1>ハブ ダッシュボード</h1>
<h2>全体サマリー</h2>
<div class="stats">
<div class="card pending"><div>未処理</div><div class="number">{{.Stats.Pending}}</div></div>
<div class="card processing"><div>処理中</div><div class="number">{{.Stats.Processing}}</div></div>
<div class="card completed"><div>完了</div><div class="number">{{.Stats.Completed}}</div></div>
<div class="card failed"><div>失敗</div><div class="number">{{.Stats.Failed}}</div></div>
<div class="card"><div>総ジョブ数</div><div class="number">{{.Stats.Total}}</div></div>
</div>
<h2>進捗マトリクス (P: Persona, L: LoRA, A: Parser)</h2>
<div style="overflow-x: auto;">
<table class="matrix">
<thead><tr><th>論文</th>{{range .Progress.Targets}}<th>{{targetLabel .}}</th>{{end}}</tr></thead>
<tbody>
{{- $marks := .Marks}}
{{- range .Progress.Rows}}
<tr><td class="paper" title="{{.Document}}">{{.Document}}</td>
{{- range .Cells}}{{$cell := .}}<td>{{range $marks}}{{$status := $cell.Status .}}<div class="{{$status}}">{{.}}</div>{{end}}</td>{{end}}
</tr>
{{- end}}
</tbody>
</table>
</div>
<h2>失敗したジョブ (Dead Letter Queue)</h2>
<p><a href="/export/dead-letters.xlsx">XLSX でダウンロード</a></p>
{{if .DeadLetters}}
<table>
<thead><tr><th>日時</th><th>パイプライン</th><th>エラー</th><th>アクション</th></tr></thead>
<tbody>
{{- range .DeadLetters}}
<tr>
<td>{{.Timestamp}}</td>
<td>{{.Pipeline}}<br><small>{{.JobID}}</small></td>
<td>{{if .Kind}}<strong>{{.Kind}}</strong>{{end}}<div class="error">{{.Message}}</div></td>
<td>{{if .Context}}<button data-context="{{.Context}}" onclick="resubmitJob(this)">再実行</button>{{end}}</td>
</tr>
{{- end}}
</tbody>
</table>
{{else}}
<p>失敗したジョブはありません。</p>
{{end}}
</body>
</html>
`))

// Dashboard renders a read-only view over the ledger and the dead-letter log.
func (api *API) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := api.distributor.Stats(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	progress, err := api.distributor.Progress(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	records, err := api.distributor.DeadLetters()
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	view := dashboardView{
		Stats:       stats,
		Progress:    progress,
		Marks:       []string{service.MarkPersona, service.MarkLora, service.MarkParser},
		DeadLetters: make([]deadLetterView, 0, len(records)),
	}
	for _, record := range records {
		jobContext := ""
		if len(record.JobContextForResubmit) > 0 && string(record.JobContextForResubmit) != "null" {
			jobContext = string(record.JobContextForResubmit)
		}
		view.DeadLetters = append(view.DeadLetters, deadLetterView{
			Timestamp: record.Timestamp.Format("2006-01-02 15:04:05"),
			JobID:     record.FailedJobID,
			Pipeline:  string(record.PipelineName),
			Kind:      record.ErrorInfo.Kind,
			Message:   record.ErrorInfo.Message,
			Context:   jobContext,
		})
	}

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, view); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
