package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iago/dataset-hub/internal/domain"
)

const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	xmlns="http://purl.org/rss/1.0/"
	xmlns:dc="http://purl.org/dc/elements/1.1/"
	xmlns:prism="http://prismstandard.org/namespaces/basic/2.0/"
	xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/">
	<channel rdf:about="https://api.jstage.jst.go.jp/searchapi/do">
		<title>J-STAGE</title>
		<opensearch:totalResults>42</opensearch:totalResults>
	</channel>
	<item rdf:about="https://www.jstage.jst.go.jp/article/rika/38/1/38_1/_article/-char/ja">
		<title>rss title</title>
		<link>https://www.jstage.jst.go.jp/article/rika/38/1/38_1/_article/-char/ja</link>
		<dc:title>脳卒中後の歩行訓練</dc:title>
		<prism:doi>10.1589/rika.38.1</prism:doi>
		<prism:publicationName>理学療法科学</prism:publicationName>
		<prism:publicationDate>2023-02-01</prism:publicationDate>
	</item>
	<item rdf:about="x">
		<link>https://www.jstage.jst.go.jp/article/nodoi/_article/-char/ja</link>
		<dc:title>no doi</dc:title>
	</item>
</rdf:RDF>`

func TestSearchParsesFeed(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(feedFixture))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, PageSize: 10})
	result, err := client.Search(context.Background(), "脳卒中", 2)
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if !containsAll(gotQuery, "count=10", "start=11", "service=3") {
		t.Fatalf("unexpected query: %s", gotQuery)
	}
	if result.Total != 42 {
		t.Fatalf("expected total 42, got %d", result.Total)
	}
	if len(result.Articles) != 1 {
		t.Fatalf("expected item without doi to be dropped, got %d articles", len(result.Articles))
	}

	article := result.Articles[0]
	if article.Metadata.Title != "脳卒中後の歩行訓練" || article.Metadata.DOI != "10.1589/rika.38.1" {
		t.Fatalf("unexpected metadata: %+v", article.Metadata)
	}
	if article.URL != "https://www.jstage.jst.go.jp/article/rika/38/1/38_1/_pdf/" {
		t.Fatalf("unexpected pdf url: %s", article.URL)
	}
	if article.Metadata.FallbackURL == article.URL {
		t.Fatalf("expected landing page as fallback url")
	}
}

func TestSearchReportsTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	if _, err := client.Search(context.Background(), "x", 1); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestDownloadDetectsContentType(t *testing.T) {
	cases := []struct {
		name        string
		header      http.Header
		body        string
		contentType string
	}{
		{"pdf header", http.Header{"Content-Type": {"application/pdf"}}, "bytes", ContentTypePDF},
		{"disposition", http.Header{"Content-Type": {"application/octet-stream"}, "Content-Disposition": {`attachment; filename="a.pdf"`}}, "bytes", ContentTypePDF},
		{"html header", http.Header{"Content-Type": {"text/html; charset=utf-8"}}, "<html></html>", ContentTypeHTML},
		{"sniffed pdf", http.Header{"Content-Type": {"application/octet-stream"}}, "%PDF-1.7", ContentTypePDF},
		{"unknown", http.Header{"Content-Type": {"application/octet-stream"}}, "hello", ContentTypeHTML},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for key, values := range tc.header {
					w.Header()[key] = values
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			body, contentType, err := NewClient(ClientConfig{}).Download(context.Background(), server.URL)
			if err != nil {
				t.Fatalf("expected success, got err=%v", err)
			}
			if contentType != tc.contentType || string(body) != tc.body {
				t.Fatalf("expected %s, got %s (%q)", tc.contentType, contentType, body)
			}
		})
	}
}

func TestPDFURL(t *testing.T) {
	got := PDFURL("https://www.jstage.jst.go.jp/article/a/1/1/1_1/_article/-char/ja")
	if got != "https://www.jstage.jst.go.jp/article/a/1/1/1_1/_pdf/" {
		t.Fatalf("unexpected pdf url: %s", got)
	}
}

func containsAll(value string, parts ...string) bool {
	for _, part := range parts {
		if !strings.Contains(value, part) {
			return false
		}
	}
	return true
}
