// Package sitemap parses sitemap XML, fetches sitemaps over HTTP, and diffs snapshot URL sets.
package sitemap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Kind is the root element type of a sitemap document.
type Kind int

const (
	KindUnknown Kind = iota
	KindURLSet
	KindIndex
)

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlLoc `xml:"url"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []xmlLoc `xml:"sitemap"`
}

type xmlLoc struct {
	Loc string `xml:"loc"`
}

// DetectKind reports whether body is a urlset or a sitemap index by its root element.
func DetectKind(body []byte) (Kind, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return KindUnknown, nil
		}
		if err != nil {
			return KindUnknown, fmt.Errorf("detect sitemap kind: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "urlset":
			return KindURLSet, nil
		case "sitemapindex":
			return KindIndex, nil
		default:
			return KindUnknown, nil
		}
	}
}

// ParseURLSet returns the <loc> of every <url> in a urlset, trimmed, in document order.
// Empty locations are dropped.
func ParseURLSet(body []byte) ([]string, error) {
	var urlset xmlURLSet
	if err := xml.Unmarshal(body, &urlset); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	return collectLocs(urlset.URLs), nil
}

// ParseIndex returns the child sitemap URLs listed in a sitemap index.
func ParseIndex(body []byte) ([]string, error) {
	var index xmlSitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil {
		return nil, fmt.Errorf("parse sitemap index: %w", err)
	}
	return collectLocs(index.Sitemaps), nil
}

func collectLocs(entries []xmlLoc) []string {
	locs := make([]string, 0, len(entries))
	for _, e := range entries {
		loc := strings.TrimSpace(e.Loc)
		if loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs
}
