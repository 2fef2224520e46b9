package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/iago/dataset-hub/internal/ai"
	"github.com/iago/dataset-hub/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Downloader fetches an article and reports "application/pdf" or "text/html".
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

type RagSourceHandler struct {
	downloader Downloader
	extract    func([]byte) (string, error)
	generator  ai.TextGenerator
	profile    ai.ModelProfile
	logger     *zap.Logger
}

func NewRagSourceHandler(downloader Downloader, extract func([]byte) (string, error), generator ai.TextGenerator, router *ai.ModelRouter, logger *zap.Logger) *RagSourceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RagSourceHandler{
		downloader: downloader,
		extract:    extract,
		generator:  generator,
		profile:    router.Select(domain.PipelineRagSource),
		logger:     logger,
	}
}

type frontmatter struct {
	Title         string `yaml:"title"`
	DOI           string `yaml:"doi"`
	Journal       string `yaml:"journal"`
	PublishedDate string `yaml:"published_date"`
	SourceURL     string `yaml:"source_url"`
}

// Handle downloads the article, preferring the PDF link and falling back to the
// HTML landing page, converts it to Markdown and prepends YAML frontmatter.
func (h *RagSourceHandler) Handle(ctx context.Context, task Task) (domain.ResultBody, error) {
	payload, ok := task.Payload.(domain.RagSourcePayload)
	if !ok {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrUnknownPipeline, "expected rag_source payload", nil)
	}
	if strings.TrimSpace(payload.URL) == "" {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrMissingInput, "job has no url", nil)
	}

	sourceURL := payload.URL
	content, contentType, err := h.downloader.Download(ctx, payload.URL)
	if err != nil || contentType != "application/pdf" {
		fallback := payload.Metadata.FallbackURL
		if fallback == "" || fallback == payload.URL {
			if err != nil {
				return domain.ResultBody{}, err
			}
		} else {
			h.logger.Info("pdf unavailable, trying landing page", zap.String("job_id", task.JobID), zap.String("url", fallback), zap.Error(err))
			content, contentType, err = h.downloader.Download(ctx, fallback)
			if err != nil {
				return domain.ResultBody{}, fmt.Errorf("download %s and %s: %w", payload.URL, fallback, err)
			}
			sourceURL = fallback
		}
	}

	var body string
	switch contentType {
	case "application/pdf":
		document := ai.Document{Filename: "article.pdf", MIMEType: contentType, Data: content}
		result, err := ai.GenerateDocumentWithFallback(ctx, h.generator, h.profile, markdownInstructions, "添付の論文PDFを変換してください。", document)
		if err != nil {
			return domain.ResultBody{}, generationFailure(err)
		}
		body = result.Text
	default:
		text, err := h.extract(content)
		if err != nil || strings.TrimSpace(text) == "" {
			return domain.ResultBody{}, domain.NewTaskError(domain.ErrMissingInput, "no text extracted from "+sourceURL, err)
		}
		result, err := ai.GenerateWithFallback(ctx, h.generator, h.profile, markdownInstructions, "【論文テキスト】\n"+text)
		if err != nil {
			return domain.ResultBody{}, generationFailure(err)
		}
		body = result.Text
	}

	body = strings.TrimSpace(unfence(body))
	if body == "" {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrGenerationFailure, "empty markdown", nil)
	}

	header, err := renderFrontmatter(payload.Metadata, sourceURL)
	if err != nil {
		return domain.ResultBody{}, err
	}
	return domain.ResultBody{Content: header + "\n" + body + "\n", Extension: ".md"}, nil
}

func renderFrontmatter(metadata domain.ArticleMetadata, sourceURL string) (string, error) {
	orNA := func(value string) string {
		if strings.TrimSpace(value) == "" {
			return "N/A"
		}
		return value
	}
	encoded, err := yaml.Marshal(frontmatter{
		Title:         orNA(metadata.Title),
		DOI:           orNA(metadata.DOI),
		Journal:       orNA(metadata.Journal),
		PublishedDate: orNA(metadata.PublishedDate),
		SourceURL:     sourceURL,
	})
	if err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	return "---\n" + string(encoded) + "---\n", nil
}

// unfence strips a Markdown code fence wrapped around the whole output.
func unfence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return text
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "```"), "```")
	if newline := strings.IndexByte(inner, '\n'); newline >= 0 {
		inner = inner[newline+1:]
	}
	return inner
}
