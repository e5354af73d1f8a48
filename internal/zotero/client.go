package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/overlab/overlab/pkg/logger"
)

// pageSize matches the Zotero API maximum page size.
const pageSize = 100

// Client talks to the Zotero Web API (v3). It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given API base URL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Credentials is the key/owner pair a worker proxy is bound to.
type Credentials struct {
	APIKey  string
	OwnerID string
}

// KeyInfo describes the key returned by the key-check endpoint.
type KeyInfo struct {
	Key      string `json:"key"`
	UserID   int64  `json:"userID"`
	Username string `json:"username"`
}

// Creator is one author/editor entry in item data.
type Creator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

// ItemData carries the fields of an item that map into the citation file.
type ItemData struct {
	Key              string    `json:"key"`
	ItemType         string    `json:"itemType"`
	Title            string    `json:"title"`
	Creators         []Creator `json:"creators"`
	Date             string    `json:"date"`
	PublicationTitle string    `json:"publicationTitle"`
	BookTitle        string    `json:"bookTitle"`
	ProceedingsTitle string    `json:"proceedingsTitle"`
	Publisher        string    `json:"publisher"`
	University       string    `json:"university"`
	Institution      string    `json:"institution"`
	Volume           string    `json:"volume"`
	Issue            string    `json:"issue"`
	Pages            string    `json:"pages"`
	DOI              string    `json:"DOI"`
	ISBN             string    `json:"ISBN"`
	URL              string    `json:"url"`
}

// Item is one library entry.
type Item struct {
	Key  string   `json:"key"`
	Data ItemData `json:"data"`
}

// ParentKey handles Zotero's parentCollection field, which is either the
// string key of the parent or the JSON literal false for root collections.
type ParentKey string

func (p *ParentKey) UnmarshalJSON(b []byte) error {
	if string(b) == "false" {
		*p = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*p = ParentKey(s)
	return nil
}

// CollectionData is the data block of a collection entry.
type CollectionData struct {
	Key              string    `json:"key"`
	Name             string    `json:"name"`
	ParentCollection ParentKey `json:"parentCollection"`
}

// Collection is one collection entry.
type Collection struct {
	Key  string         `json:"key"`
	Data CollectionData `json:"data"`
}

// ValidateKey probes the key-check endpoint with the supplied credential and
// confirms it belongs to ownerID. Classification: 401/403/404 and owner
// mismatch are ErrInvalidCredential; network failures and 5xx are ErrTransient.
// Read-only; no side effects.
func (c *Client) ValidateKey(ctx context.Context, apiKey, ownerID string) (*KeyInfo, error) {
	if apiKey == "" || ownerID == "" {
		return nil, fmt.Errorf("%w: key and owner id are required", ErrInvalidCredential)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/keys/current", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Zotero-API-Key", apiKey)
	req.Header.Set("Zotero-API-Version", "3")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: key rejected (status %d)", ErrInvalidCredential, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: key unknown", ErrInvalidCredential)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: key check returned %d: %s", ErrTransient, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var info KeyInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decoding key info: %v", ErrTransient, err)
	}
	if strconv.FormatInt(info.UserID, 10) != ownerID {
		return nil, fmt.Errorf("%w: key belongs to a different owner", ErrInvalidCredential)
	}
	return &info, nil
}

// Items fetches the top-level items of the owner's library, or of the named
// collection when collectionKey is non-empty. Attachments are excluded; they
// inflate Total-Results without contributing entries.
func (c *Client) Items(ctx context.Context, creds Credentials, collectionKey string) ([]Item, error) {
	rawURL := fmt.Sprintf("%s/users/%s/items/top", c.baseURL, url.PathEscape(creds.OwnerID))
	notFound := ErrUpstream
	if collectionKey != "" {
		rawURL = fmt.Sprintf("%s/users/%s/collections/%s/items/top", c.baseURL, url.PathEscape(creds.OwnerID), url.PathEscape(collectionKey))
		notFound = ErrCollectionNotFound
	}
	params := url.Values{}
	params.Set("itemType", "-attachment")
	params.Set("format", "json")

	pages, err := c.fetchPaged(ctx, creds.APIKey, rawURL, params, notFound)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(pages))
	for _, raw := range pages {
		var it Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, fmt.Errorf("%w: decoding item: %v", ErrUpstream, err)
		}
		items = append(items, it)
	}
	return items, nil
}

// Collections fetches every collection of the owner's library and returns the
// mapping from slash-joined name path (parent/child) to collection key.
func (c *Client) Collections(ctx context.Context, creds Credentials) (map[string]string, error) {
	rawURL := fmt.Sprintf("%s/users/%s/collections", c.baseURL, url.PathEscape(creds.OwnerID))
	pages, err := c.fetchPaged(ctx, creds.APIKey, rawURL, url.Values{}, ErrUpstream)
	if err != nil {
		return nil, err
	}
	cols := make([]Collection, 0, len(pages))
	for _, raw := range pages {
		var col Collection
		if err := json.Unmarshal(raw, &col); err != nil {
			return nil, fmt.Errorf("%w: decoding collection: %v", ErrUpstream, err)
		}
		cols = append(cols, col)
	}
	return BuildCollectionPaths(cols), nil
}

// fetchPaged requests the URL page by page using the Total-Results header,
// returning the concatenated array elements of every page.
func (c *Client) fetchPaged(ctx context.Context, apiKey, rawURL string, params url.Values, notFound error) ([]json.RawMessage, error) {
	var all []json.RawMessage
	start := 0
	for {
		p := url.Values{}
		for k, vs := range params {
			p[k] = vs
		}
		p.Set("limit", strconv.Itoa(pageSize))
		if start > 0 {
			p.Set("start", strconv.Itoa(start))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+p.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Zotero-API-Key", apiKey)
		req.Header.Set("Zotero-API-Version", "3")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		logger.Debugf("zotero: GET %s -> %d", req.URL.Path, resp.StatusCode)

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return nil, fmt.Errorf("%w (status 404)", notFound)
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return nil, fmt.Errorf("%w: fetch rejected (status %d)", ErrInvalidCredential, resp.StatusCode)
			default:
				return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(b)))
			}
		}

		var page []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&page)
		total, _ := strconv.Atoi(resp.Header.Get("Total-Results"))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: decoding page: %v", ErrUpstream, err)
		}
		all = append(all, page...)

		// advance by the page size, not by len(page): excluded attachments
		// count toward Total-Results but are not returned
		start += pageSize
		if start >= total || len(page) == 0 {
			break
		}
	}
	return all, nil
}

// BuildCollectionPaths turns a flat collection listing into a map of
// slash-joined name paths to collection keys. Children of unknown parents are
// kept under their bare name.
func BuildCollectionPaths(cols []Collection) map[string]string {
	byKey := make(map[string]Collection, len(cols))
	for _, c := range cols {
		byKey[c.Key] = c
	}
	paths := make(map[string]string, len(cols))

	var pathOf func(key string, seen map[string]bool) string
	pathOf = func(key string, seen map[string]bool) string {
		col, ok := byKey[key]
		if !ok || seen[key] {
			return ""
		}
		seen[key] = true
		parent := string(col.Data.ParentCollection)
		if parent == "" {
			return col.Data.Name
		}
		pp := pathOf(parent, seen)
		if pp == "" {
			return col.Data.Name
		}
		return pp + "/" + col.Data.Name
	}

	for _, c := range cols {
		if p := pathOf(c.Key, map[string]bool{}); p != "" {
			paths[p] = c.Key
		}
	}
	return paths
}

// ChildPaths returns the name paths (and keys) of the sub-collections under
// the given path, using the mapping produced by BuildCollectionPaths.
func ChildPaths(paths map[string]string, parent string) [][2]string {
	var out [][2]string
	prefix := parent + "/"
	for p, key := range paths {
		if strings.HasPrefix(p, prefix) {
			out = append(out, [2]string{p, key})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
