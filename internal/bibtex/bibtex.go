// Package bibtex renders Zotero item data into the citation-file format the
// editor links against. The field mapping is deliberately stable: title,
// authors, year, container title and identifiers (DOI/ISBN/URL) always map to
// the same BibTeX fields so regenerated files diff cleanly.
package bibtex

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/overlab/overlab/internal/zotero"
	"github.com/overlab/overlab/pkg/logger"
)

var yearRe = regexp.MustCompile(`\b(\d{4})\b`)
var keyCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

// entryType maps Zotero item types onto BibTeX entry types.
func entryType(itemType string) string {
	switch itemType {
	case "journalArticle":
		return "article"
	case "book":
		return "book"
	case "bookSection":
		return "incollection"
	case "conferencePaper":
		return "inproceedings"
	case "thesis":
		return "phdthesis"
	case "report":
		return "techreport"
	case "preprint", "manuscript":
		return "unpublished"
	default:
		return "misc"
	}
}

// Year extracts a four-digit year from a free-form Zotero date string.
func Year(date string) string {
	if m := yearRe.FindString(date); m != "" {
		return m
	}
	return ""
}

// CiteKey derives a deterministic cite key: first author's family name,
// year, first title word; falls back to the item key when those are absent.
func CiteKey(it zotero.Item) string {
	var family string
	if len(it.Data.Creators) > 0 {
		c := it.Data.Creators[0]
		if c.LastName != "" {
			family = c.LastName
		} else if c.Name != "" {
			fields := strings.Fields(c.Name)
			family = fields[len(fields)-1]
		}
	}
	family = keyCleanRe.ReplaceAllString(strings.ToLower(family), "")

	var word string
	for _, w := range strings.Fields(strings.ToLower(it.Data.Title)) {
		w = keyCleanRe.ReplaceAllString(w, "")
		if len(w) > 3 { // skip articles and prepositions
			word = w
			break
		}
	}

	key := family + Year(it.Data.Date) + word
	if key == "" {
		key = strings.ToLower(it.Data.Key)
		if key == "" {
			key = strings.ToLower(it.Key)
		}
	}
	return key
}

func authors(creators []zotero.Creator) string {
	var parts []string
	for _, c := range creators {
		if c.CreatorType != "" && c.CreatorType != "author" && c.CreatorType != "editor" {
			continue
		}
		switch {
		case c.LastName != "" && c.FirstName != "":
			parts = append(parts, c.LastName+", "+c.FirstName)
		case c.LastName != "":
			parts = append(parts, c.LastName)
		case c.Name != "":
			parts = append(parts, "{"+c.Name+"}")
		}
	}
	return strings.Join(parts, " and ")
}

// container picks the item's container title: journal, book or proceedings.
func container(d zotero.ItemData) (field, value string) {
	switch {
	case d.PublicationTitle != "":
		return "journal", d.PublicationTitle
	case d.ProceedingsTitle != "":
		return "booktitle", d.ProceedingsTitle
	case d.BookTitle != "":
		return "booktitle", d.BookTitle
	}
	return "", ""
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\textbackslash{}`)
	for _, ch := range []string{"&", "%", "$", "#", "_"} {
		s = strings.ReplaceAll(s, ch, `\`+ch)
	}
	return s
}

// RenderItem renders one item as a BibTeX entry.
func RenderItem(it zotero.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s{%s,\n", entryType(it.Data.ItemType), CiteKey(it))

	write := func(field, value string) {
		if value != "" {
			fmt.Fprintf(&b, "  %s = {%s},\n", field, escape(value))
		}
	}
	write("title", it.Data.Title)
	write("author", authors(it.Data.Creators))
	write("year", Year(it.Data.Date))
	if f, v := container(it.Data); f != "" {
		write(f, v)
	}
	write("publisher", it.Data.Publisher)
	if it.Data.ItemType == "thesis" {
		write("school", it.Data.University)
	}
	if it.Data.ItemType == "report" {
		write("institution", it.Data.Institution)
	}
	write("volume", it.Data.Volume)
	write("number", it.Data.Issue)
	write("pages", it.Data.Pages)
	write("doi", it.Data.DOI)
	write("isbn", it.Data.ISBN)
	write("url", it.Data.URL)

	out := b.String()
	// drop the trailing comma before closing
	out = strings.TrimSuffix(out, ",\n") + "\n}"
	return out
}

// Render renders a set of items as one bibliography.
func Render(items []zotero.Item) string {
	entries := make([]string, 0, len(items))
	for _, it := range items {
		entries = append(entries, RenderItem(it))
	}
	return strings.Join(entries, "\n\n")
}

// Dedupe removes entries that appear verbatim more than once (merged
// sub-collections share items with their parents) and logs duplicate cite
// keys that point at differing entries.
func Dedupe(bibliography string) string {
	entries := strings.Split(bibliography, "\n\n@")
	seenEntries := map[string]bool{}
	seenKeys := map[string]bool{}
	var result []string

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.HasPrefix(entry, "@") {
			entry = "@" + entry
		}
		if seenEntries[entry] {
			continue
		}
		seenEntries[entry] = true

		key := citeKeyOf(entry)
		if key != "" {
			if seenKeys[key] {
				logger.Warnf("bibtex: duplicate cite key %q with differing entries", key)
			}
			seenKeys[key] = true
		}
		result = append(result, entry)
	}
	return strings.Join(result, "\n\n")
}

func citeKeyOf(entry string) string {
	open := strings.Index(entry, "{")
	if open < 0 {
		return ""
	}
	rest := entry[open+1:]
	if comma := strings.Index(rest, ","); comma >= 0 {
		return strings.TrimSpace(rest[:comma])
	}
	return ""
}

// SortItems orders items by cite key for stable output across fetches.
func SortItems(items []zotero.Item) {
	sort.Slice(items, func(i, j int) bool { return CiteKey(items[i]) < CiteKey(items[j]) })
}
