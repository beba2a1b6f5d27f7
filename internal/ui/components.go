package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"

	"github.com/a-h/templ"
)

// Object represents a single stored object for display.
type Object struct {
	Key          string
	ETag         string
	Size         int64
	LastModified string
	URL          string
}

// Transfer represents a single journal entry for display.
type Transfer struct {
	Operation string
	Key       string
	Size      int64
	User      string
	When      string
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<title>%s</title>", html.EscapeString(title))
		if err != nil {
			return err
		}
		// Pico.css and HTMX via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<script src=\"https://unpkg.com/htmx.org@1.9.12\" integrity=\"sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M\" crossorigin=\"anonymous\"></script>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head><body><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// uploadForm posts a multipart upload to the API.
func uploadForm() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<form method=\"post\" action=\"/api/UploadFile/UploadFile\" enctype=\"multipart/form-data\" hx-post=\"/api/UploadFile/UploadFile\" hx-encoding=\"multipart/form-data\" hx-target=\"#upload-result\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<fieldset role=\"group\"><input type=\"file\" name=\"file\" required><button type=\"submit\">Upload</button></fieldset>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</form><pre id=\"upload-result\"></pre>")
		return err
	})
}

// ObjectsPage renders the objects stored in bucket along with an upload form.
func ObjectsPage(bucket string, objects []Object) templ.Component {
	return Layout("Filedrop - "+bucket, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<section><header><h1>Bucket: %s</h1>", html.EscapeString(bucket))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<p><a href=\"/history\">Recent transfers</a></p></header>")
		if err != nil {
			return err
		}

		if err := uploadForm().Render(ctx, w); err != nil {
			return err
		}

		if len(objects) == 0 {
			_, err = io.WriteString(w, "<p>No objects in this bucket.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>Key</th><th>Size (bytes)</th><th>ETag</th><th>Last Modified</th><th></th></tr></thead><tbody>")
		if err != nil {
			return err
		}

		for _, o := range objects {
			key := html.EscapeString(o.Key)
			if o.URL != "" {
				key = fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(o.URL), key)
			}
			// fileKey is decoded once by the query parser and once more by
			// the handler.
			deleteURL := "/api/UploadFile/DeleteFileAsync?fileKey=" + url.QueryEscape(url.QueryEscape(o.Key))
			row := fmt.Sprintf(
				"<tr><td>%s</td><td>%d</td><td><code>%s</code></td><td>%s</td><td><button class=\"secondary\" hx-post=\"%s\" hx-confirm=\"Delete %s?\" hx-target=\"closest tr\" hx-swap=\"outerHTML\">Delete</button></td></tr>",
				key, o.Size, html.EscapeString(o.ETag), html.EscapeString(o.LastModified), html.EscapeString(deleteURL), html.EscapeString(o.Key),
			)
			_, err = io.WriteString(w, row)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</tbody></table></section>")
		return err
	}))
}

// HistoryPage renders the most recent journal entries.
func HistoryPage(transfers []Transfer) templ.Component {
	return Layout("Filedrop - History", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Recent transfers</h1><p><a href=\"/\">&larr; Back to objects</a></p></header>")
		if err != nil {
			return err
		}

		if len(transfers) == 0 {
			_, err = io.WriteString(w, "<p>No transfers recorded.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>When</th><th>Operation</th><th>Key</th><th>Size (bytes)</th><th>User</th></tr></thead><tbody>")
		if err != nil {
			return err
		}

		for _, t := range transfers {
			row := fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td></tr>", html.EscapeString(t.When), html.EscapeString(t.Operation), html.EscapeString(t.Key), t.Size, html.EscapeString(t.User))
			_, err = io.WriteString(w, row)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</tbody></table></section>")
		return err
	}))
}
