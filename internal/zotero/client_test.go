package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateKey_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/keys/current", r.URL.Path)
		require.Equal(t, "k-123", r.Header.Get("Zotero-API-Key"))
		json.NewEncoder(w).Encode(map[string]interface{}{"key": "k-123", "userID": 1001, "username": "alice"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	info, err := c.ValidateKey(context.Background(), "k-123", "1001")
	require.NoError(t, err)
	require.Equal(t, "alice", info.Username)
}

func TestValidateKey_OwnerMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"userID": 1001, "username": "alice"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.ValidateKey(context.Background(), "k-123", "9999")
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidateKey_Classification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrInvalidCredential},
		{http.StatusForbidden, ErrInvalidCredential},
		{http.StatusNotFound, ErrInvalidCredential},
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusBadGateway, ErrTransient},
		{http.StatusTooManyRequests, ErrTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewClient(srv.URL, 2*time.Second)
		_, err := c.ValidateKey(context.Background(), "k", "1")
		require.ErrorIs(t, err, tc.want, "status %d", tc.status)
		srv.Close()
	}
}

func TestValidateKey_EmptyInputs(t *testing.T) {
	c := NewClient("http://unused.invalid", time.Second)
	_, err := c.ValidateKey(context.Background(), "", "1")
	require.ErrorIs(t, err, ErrInvalidCredential)
	_, err = c.ValidateKey(context.Background(), "k", "")
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidateKey_NetworkFailureIsTransient(t *testing.T) {
	// port 1 on localhost: connection refused
	c := NewClient("http://127.0.0.1:1", time.Second)
	_, err := c.ValidateKey(context.Background(), "k", "1")
	require.ErrorIs(t, err, ErrTransient)
}

func TestItems_Paginated(t *testing.T) {
	// 150 items served in pages of 100
	total := 150
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/1001/items/top", r.URL.Path)
		require.Equal(t, "-attachment", r.URL.Query().Get("itemType"))
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		w.Header().Set("Total-Results", strconv.Itoa(total))
		var page []map[string]interface{}
		for i := start; i < total && i < start+100; i++ {
			page = append(page, map[string]interface{}{
				"key":  fmt.Sprintf("IT%03d", i),
				"data": map[string]interface{}{"key": fmt.Sprintf("IT%03d", i), "title": fmt.Sprintf("Paper %d", i), "itemType": "journalArticle"},
			})
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	items, err := c.Items(context.Background(), Credentials{APIKey: "k", OwnerID: "1001"}, "")
	require.NoError(t, err)
	require.Len(t, items, total)
	require.Equal(t, "Paper 0", items[0].Data.Title)
	require.Equal(t, "Paper 149", items[149].Data.Title)
}

func TestItems_CollectionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.Items(context.Background(), Credentials{APIKey: "k", OwnerID: "1001"}, "NOPE")
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestItems_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server on fire", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.Items(context.Background(), Credentials{APIKey: "k", OwnerID: "1001"}, "")
	require.ErrorIs(t, err, ErrUpstream)
}

func TestCollections_NestedPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/1001/collections", r.URL.Path)
		w.Header().Set("Total-Results", "3")
		fmt.Fprint(w, `[
			{"key":"AAA","data":{"key":"AAA","name":"Physics","parentCollection":false}},
			{"key":"BBB","data":{"key":"BBB","name":"Optics","parentCollection":"AAA"}},
			{"key":"CCC","data":{"key":"CCC","name":"Lasers","parentCollection":"BBB"}}
		]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	paths, err := c.Collections(context.Background(), Credentials{APIKey: "k", OwnerID: "1001"})
	require.NoError(t, err)
	require.Equal(t, "AAA", paths["Physics"])
	require.Equal(t, "BBB", paths["Physics/Optics"])
	require.Equal(t, "CCC", paths["Physics/Optics/Lasers"])
}

func TestChildPaths(t *testing.T) {
	paths := map[string]string{
		"Physics":               "AAA",
		"Physics/Optics":        "BBB",
		"Physics/Optics/Lasers": "CCC",
		"Biology":               "DDD",
	}
	children := ChildPaths(paths, "Physics")
	require.Len(t, children, 2)
	require.Equal(t, "Physics/Optics", children[0][0])
	require.Equal(t, "Physics/Optics/Lasers", children[1][0])
	require.Empty(t, ChildPaths(paths, "Biology"))
}
