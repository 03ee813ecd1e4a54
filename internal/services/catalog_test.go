package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/shared"
	tu "github.com/desertthunder/dsx/internal/testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*CatalogClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	endpoint, err := models.NewCatalogEndpoint(server.URL, "secret-token")
	if err != nil {
		t.Fatalf("failed to build endpoint: %v", err)
	}
	return NewCatalogClient(endpoint, ClientOpts{RateLimit: 1000, RateBurst: 100}), server
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, result any, apiErr map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": success}
	if result != nil {
		body["result"] = result
	}
	if apiErr != nil {
		body["error"] = apiErr
	}
	json.NewEncoder(w).Encode(body)
}

func TestCatalogClient(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("applies defaults", func(t *testing.T) {
			client := NewCatalogClient(models.CatalogEndpoint{URL: "https://open.example.org"}, ClientOpts{})

			if client.httpClient == nil {
				t.Fatal("expected an http client")
			}
			if client.httpClient.Timeout.Seconds() != 60 {
				t.Errorf("expected 60s timeout, got %v", client.httpClient.Timeout)
			}
			if client.userAgent != "dsx" {
				t.Errorf("expected default user agent, got %s", client.userAgent)
			}
			if client.Endpoint().URL != "https://open.example.org" {
				t.Errorf("unexpected endpoint %s", client.Endpoint().URL)
			}
		})

		t.Run("uses provided http client", func(t *testing.T) {
			custom := &http.Client{}
			client := NewCatalogClient(models.CatalogEndpoint{URL: "https://open.example.org"}, ClientOpts{HTTPClient: custom})
			if client.httpClient != custom {
				t.Error("expected custom client to be used")
			}
		})
	})

	t.Run("OrganizationShow", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/3/action/organization_show" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.URL.Query().Get("id"); got != "environment" {
				t.Errorf("expected lookup by name, got %s", got)
			}
			if got := r.Header.Get("Authorization"); got != "secret-token" {
				t.Errorf("expected raw token in Authorization header, got %q", got)
			}
			writeEnvelope(w, http.StatusOK, true, map[string]any{
				"id": "org-1", "name": "environment", "title": "Environment",
			}, nil)
		})

		org, err := client.OrganizationShow(context.Background(), "environment")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if org.ID != "org-1" || org.Title != "Environment" {
			t.Errorf("unexpected organization %+v", org)
		}
	})

	t.Run("error mapping", func(t *testing.T) {
		tests := []struct {
			name    string
			status  int
			success bool
			apiErr  map[string]any
			want    error
			wantMsg string
		}{
			{
				name:   "404 is not found",
				status: http.StatusNotFound,
				apiErr: map[string]any{"__type": "Not Found Error", "message": "Not found"},
				want:   shared.ErrNotFound,
			},
			{
				name:   "not found type with 200",
				status: http.StatusOK,
				apiErr: map[string]any{"__type": "Not Found Error", "message": "Dataset not found"},
				want:   shared.ErrNotFound,
			},
			{
				name:    "validation error is rejected",
				status:  http.StatusConflict,
				apiErr:  map[string]any{"__type": "Validation Error", "name": []any{"That URL is already in use."}},
				want:    shared.ErrRemoteRejected,
				wantMsg: "name: That URL is already in use.",
			},
			{
				name:   "authorization error is rejected",
				status: http.StatusForbidden,
				apiErr: map[string]any{"__type": "Authorization Error", "message": "Access denied"},
				want:   shared.ErrRemoteRejected,
			},
			{
				name:   "server error without body",
				status: http.StatusBadGateway,
				want:   shared.ErrRemoteRejected,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
					if tt.apiErr == nil {
						w.WriteHeader(tt.status)
						return
					}
					writeEnvelope(w, tt.status, tt.success, nil, tt.apiErr)
				})

				_, err := client.PackageShow(context.Background(), "air-quality")
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected *APIError, got %T", err)
				}
				if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
					t.Errorf("expected message to contain %q, got %q", tt.wantMsg, err.Error())
				}
			})
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		server.Close()

		_, err := client.PackageShow(context.Background(), "air-quality")
		if !errors.Is(err, shared.ErrTransport) {
			t.Fatalf("expected ErrTransport, got %v", err)
		}
	})

	t.Run("canceled context keeps its cause", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, true, map[string]any{}, nil)
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.PackageShow(ctx, "air-quality")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if !errors.Is(err, shared.ErrTransport) {
			t.Fatalf("expected ErrTransport, got %v", err)
		}
	})

	t.Run("unreadable body", func(t *testing.T) {
		rt := tu.NewMockRoundTripper(&http.Response{
			StatusCode: http.StatusOK,
			Body:       &tu.FCloser{},
			Header:     make(http.Header),
		}, nil)
		client := NewCatalogClient(models.CatalogEndpoint{URL: "https://open.example.org"}, ClientOpts{
			HTTPClient: &http.Client{Transport: rt},
		})

		_, err := client.PackageShow(context.Background(), "air-quality")
		if !errors.Is(err, shared.ErrUnexpectedResponse) {
			t.Fatalf("expected ErrUnexpectedResponse, got %v", err)
		}
	})

	t.Run("PackagePatch requires id", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		if _, err := client.PackagePatch(context.Background(), map[string]any{"private": false}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("PackageCreate posts JSON", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON body, got %s", ct)
			}
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["private"] != true {
				t.Errorf("expected private=true in payload, got %v", payload["private"])
			}
			writeEnvelope(w, http.StatusOK, true, map[string]any{"id": "new-id", "name": payload["name"]}, nil)
		})

		raw, err := client.PackageCreate(context.Background(), map[string]any{"name": "air-quality", "private": true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if raw["id"] != "new-id" {
			t.Errorf("unexpected result %v", raw)
		}
	})

	t.Run("ResourceCreate with upload", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "multipart/form-data" {
				t.Fatalf("expected multipart body, got %s", r.Header.Get("Content-Type"))
			}

			mr := multipart.NewReader(r.Body, params["boundary"])
			fields := map[string]string{}
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("failed to read part: %v", err)
				}
				data, _ := io.ReadAll(part)
				if part.FormName() == "upload" {
					if part.FileName() != "readings.csv" {
						t.Errorf("expected filename readings.csv, got %s", part.FileName())
					}
					if ct := part.Header.Get("Content-Type"); ct != "application/x-gzip" {
						t.Errorf("content type must be forwarded verbatim, got %s", ct)
					}
					if string(data) != "site,pm25\n" {
						t.Errorf("unexpected upload body %q", data)
					}
					continue
				}
				fields[part.FormName()] = string(data)
			}

			if fields["package_id"] != "pkg-1" || fields["name"] != "readings" {
				t.Errorf("unexpected form fields %v", fields)
			}
			writeEnvelope(w, http.StatusOK, true, map[string]any{"id": "res-1"}, nil)
		})

		raw, err := client.ResourceCreate(context.Background(),
			map[string]any{"package_id": "pkg-1", "name": "readings"},
			&Content{Filename: "readings.csv", ContentType: "application/x-gzip", Data: []byte("site,pm25\n")},
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if raw["id"] != "res-1" {
			t.Errorf("unexpected result %v", raw)
		}
	})

	t.Run("DatastoreSearch", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("resource_id") != "res-1" || q.Get("limit") != "0" || q.Get("include_total") != "true" {
				t.Errorf("unexpected query %v", q)
			}
			writeEnvelope(w, http.StatusOK, true, map[string]any{
				"fields":  []any{map[string]any{"id": "_id", "type": "int"}, map[string]any{"id": "site", "type": "text"}},
				"records": []any{},
				"total":   12000,
			}, nil)
		})

		result, err := client.DatastoreSearch(context.Background(), "res-1", 0, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Total != 12000 || len(result.Fields) != 2 {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("DatastoreUpsert", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["method"] != "insert" || payload["force"] != true {
				t.Errorf("unexpected payload %v", payload)
			}
			if rows, _ := payload["records"].([]any); len(rows) != 2 {
				t.Errorf("expected 2 records, got %v", payload["records"])
			}
			writeEnvelope(w, http.StatusOK, true, nil, nil)
		})

		rows := []models.Row{{"site": "a"}, {"site": "b"}}
		if err := client.DatastoreUpsert(context.Background(), "res-1", rows, "insert"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestFetchContent(t *testing.T) {
	t.Run("same origin sends credential", func(t *testing.T) {
		client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "secret-token" {
				t.Errorf("expected credential on same-origin fetch")
			}
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Write([]byte("a,b\n1,2\n"))
		})

		content, err := client.FetchContent(context.Background(), server.URL+"/dataset/d/resource/r/download/data.csv?x=1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if content.Filename != "data.csv" {
			t.Errorf("expected data.csv, got %s", content.Filename)
		}
		if content.ContentType != "text/csv; charset=utf-8" {
			t.Errorf("expected content type as served, got %s", content.ContentType)
		}
		if string(content.Data) != "a,b\n1,2\n" {
			t.Errorf("unexpected data %q", content.Data)
		}
	})

	t.Run("foreign origin omits credential", func(t *testing.T) {
		foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("credential leaked to a foreign host")
			}
			w.Write([]byte("ok"))
		}))
		defer foreign.Close()

		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		if _, err := client.FetchContent(context.Background(), foreign.URL+"/file.bin"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := client.FetchContent(context.Background(), server.URL+"/missing.csv")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
