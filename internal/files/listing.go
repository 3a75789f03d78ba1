package files

import (
	"html/template"
	"io"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
)

var listingTemplate = template.Must(template.New("listing").Parse(`<html><body><h1>{{.Title}}</h1><ul>
{{- range .Items}}
<li><a href="{{.Href}}">{{.Label}}</a>{{if .Size}} <small>{{.Size}}</small>{{end}}</li>
{{- end}}
</ul></body></html>
`))

type listingItem struct {
	Href  string
	Label string
	Size  string
}

type listingPage struct {
	Title string
	Items []listingItem
}

// EntryHref returns the link target for name under requestPath. Directory
// links end in a slash.
func EntryHref(requestPath string, e Entry) string {
	base := (&url.URL{Path: strings.TrimRight(requestPath, "/")}).EscapedPath()
	href := base + "/" + url.PathEscape(e.Name)
	if e.IsDir {
		href += "/"
	}
	return href
}

// RenderListing writes the HTML listing of entries for requestPath. Entries
// are rendered in the order given; callers pass VisibleEntries output.
func RenderListing(w io.Writer, requestPath string, entries []Entry) error {
	page := listingPage{
		Title: requestPath,
		Items: make([]listingItem, 0, len(entries)),
	}

	for _, e := range entries {
		item := listingItem{
			Href:  EntryHref(requestPath, e),
			Label: e.Name,
		}
		if e.IsDir {
			item.Label += "/"
		} else {
			item.Size = humanize.Bytes(uint64(e.Size))
		}
		page.Items = append(page.Items, item)
	}

	return listingTemplate.Execute(w, page)
}
