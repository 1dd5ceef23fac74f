package policy

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"
)

// GoogleDocsSource reads #MARKER# blocks from one Google Doc. Tables are
// rendered as markdown so the model sees them as structured data.
type GoogleDocsSource struct {
	service    *docs.Service
	documentID string
}

// NewGoogleDocsService builds a read-only Docs client from a service account file.
func NewGoogleDocsService(ctx context.Context, credentialsFile string) (*docs.Service, error) {
	svc, err := docs.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(docs.DocumentsReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create docs service: %w", err)
	}
	return svc, nil
}

func NewGoogleDocsSource(service *docs.Service, documentID string) *GoogleDocsSource {
	return &GoogleDocsSource{service: service, documentID: documentID}
}

func (s *GoogleDocsSource) Name() string {
	id := s.documentID
	if len(id) > 10 {
		id = "..." + id[len(id)-10:]
	}
	return "gdoc:" + id
}

func (s *GoogleDocsSource) Load(ctx context.Context) (Library, error) {
	doc, err := s.service.Documents.Get(s.documentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return ParseMarkers(DocumentText(doc)), nil
}

// DocumentText flattens a document body into plain text with tables as markdown.
func DocumentText(doc *docs.Document) string {
	if doc == nil || doc.Body == nil {
		return ""
	}

	var b strings.Builder
	for _, el := range doc.Body.Content {
		switch {
		case el.Paragraph != nil:
			b.WriteString(paragraphText(el.Paragraph))
		case el.Table != nil:
			b.WriteString("\n")
			b.WriteString(tableMarkdown(el.Table))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func paragraphText(p *docs.Paragraph) string {
	var b strings.Builder
	for _, el := range p.Elements {
		if el.TextRun != nil {
			b.WriteString(el.TextRun.Content)
		}
	}
	return b.String()
}

func cellText(cell *docs.TableCell) string {
	var b strings.Builder
	for _, el := range cell.Content {
		if el.Paragraph != nil {
			b.WriteString(paragraphText(el.Paragraph))
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tableMarkdown(t *docs.Table) string {
	if len(t.TableRows) == 0 {
		return ""
	}

	lines := make([]string, 0, len(t.TableRows)+1)
	for i, row := range t.TableRows {
		cells := make([]string, 0, len(row.TableCells))
		for _, cell := range row.TableCells {
			cells = append(cells, cellText(cell))
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		if i == 0 {
			sep := make([]string, len(cells))
			for j := range sep {
				sep[j] = "---"
			}
			lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
		}
	}
	return strings.Join(lines, "\n")
}
