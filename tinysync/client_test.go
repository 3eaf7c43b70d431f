package tinysync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(baseURL string) *tinyClient {
	return &tinyClient{
		baseURL: baseURL,
		token:   "test-token",
		http:    &http.Client{Timeout: 5 * time.Second},
		limiter: time.NewTicker(time.Microsecond),
	}
}

func writeRetorno(w http.ResponseWriter, retorno map[string]interface{}) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"retorno": retorno})
}

func TestSearchPageEndpointFallback(t *testing.T) {
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		if r.URL.Path == "/pedidos.pesquisa.php" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		if r.PostFormValue("token") != "test-token" || r.PostFormValue("formato") != "json" {
			t.Errorf("missing token/formato in form: %v", r.PostForm)
		}
		writeRetorno(w, map[string]interface{}{
			"status": "OK",
			"pedidos": []interface{}{
				map[string]interface{}{"pedido": map[string]interface{}{"id": "1"}},
			},
		})
	}))
	defer srv.Close()

	rows, err := testClient(srv.URL).searchPage(context.Background(), orderResource, searchParams{page: 1, pageSize: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["id"] != "1" {
		t.Fatalf("rows = %v, want the unwrapped pedido", rows)
	}
	if len(hits) < 2 || hits[0] != "/pedidos.pesquisa.php" {
		t.Fatalf("hits = %v, want the first endpoint tried before the fallback", hits)
	}
}

func TestSearchPageApiError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRetorno(w, map[string]interface{}{
			"status": "Erro",
			"erros":  []interface{}{map[string]interface{}{"erro": "token invalido"}},
		})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).searchPage(context.Background(), orderResource, searchParams{page: 1})
	if err == nil {
		t.Fatal("expected an error when every endpoint reports Erro")
	}
}

func TestCollectResourcePaginatesUntilShortPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.URL.Path {
		case "/pedidos.pesquisa.php":
			page := r.PostFormValue("pagina")
			var pedidos []interface{}
			if page == "1" {
				pedidos = []interface{}{
					map[string]interface{}{"id": "1"},
					map[string]interface{}{"id": "2"},
				}
			} else {
				pedidos = []interface{}{
					map[string]interface{}{"id": "3"},
				}
			}
			writeRetorno(w, map[string]interface{}{"status": "OK", "pedidos": pedidos})
		case "/pedido.obter.php":
			writeRetorno(w, map[string]interface{}{
				"status": "OK",
				"pedido": map[string]interface{}{"id": r.PostFormValue("id"), "detalhe": true},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	records, err := collectResource(context.Background(), testClient(srv.URL), orderResource, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 across two pages", len(records))
	}
	for _, record := range records {
		if record["detalhe"] != true {
			t.Fatalf("record %v was not upgraded to its detail", record)
		}
	}
}

func TestFetchDetailDegradesToSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	summary := map[string]interface{}{"id": "42", "numero": "42"}
	got := testClient(srv.URL).fetchDetail(context.Background(), orderResource, summary)
	if got["id"] != "42" {
		t.Fatalf("got %v, want the original summary back", got)
	}
}

func TestFetchDetailProbesNestedIds(t *testing.T) {
	var askedId string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		askedId = r.PostFormValue("id")
		writeRetorno(w, map[string]interface{}{
			"status": "OK",
			"pedido": map[string]interface{}{"id": askedId, "detalhe": true},
		})
	}))
	defer srv.Close()

	summary := map[string]interface{}{
		"pedido": map[string]interface{}{"idPedido": float64(314)},
	}
	got := testClient(srv.URL).fetchDetail(context.Background(), orderResource, summary)
	if askedId != "314" {
		t.Fatalf("asked id = %q, want the nested camelCase id", askedId)
	}
	if got["detalhe"] != true {
		t.Fatalf("got %v, want the detail payload", got)
	}
}

func TestUnwrapCollectionShapes(t *testing.T) {
	cases := []struct {
		name string
		root map[string]interface{}
		want int
	}{
		{
			"wrapped rows",
			map[string]interface{}{"pedidos": []interface{}{
				map[string]interface{}{"pedido": map[string]interface{}{"id": "1"}},
			}},
			1,
		},
		{
			"bare rows",
			map[string]interface{}{"pedidos": []interface{}{
				map[string]interface{}{"id": "1"},
				map[string]interface{}{"id": "2"},
			}},
			2,
		},
		{
			"nested list",
			map[string]interface{}{"pedidos": map[string]interface{}{
				"pedidos": []interface{}{map[string]interface{}{"id": "1"}},
			}},
			1,
		},
		{"missing key", map[string]interface{}{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := unwrapCollection(tc.root, "pedidos", "pedido")
			if len(got) != tc.want {
				t.Fatalf("got %d rows, want %d", len(got), tc.want)
			}
		})
	}
}
