package tinysync_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumeara/dre_backend/config"
	"github.com/lumeara/dre_backend/models"
	"github.com/lumeara/dre_backend/tinysync"
)

func fakeTinyServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/pedidos.pesquisa.php":
			_, _ = w.Write([]byte(`{"retorno":{"status":"OK","pedidos":[{"pedido":{"id":"7"}}]}}`))
		case "/pedido.obter.php":
			_, _ = w.Write([]byte(`{"retorno":{"status":"OK","pedido":{"id":"7","numero":"7","data_pedido":"10/02/2025","valor_total":"120,00"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSyncHandlerMarksSyncTime(t *testing.T) {
	srv := fakeTinyServer(t)
	defer srv.Close()
	t.Setenv("TINY_API_BASE_URL", srv.URL)
	t.Setenv("TINY_RATE_LIMIT_PER_MIN", "60000")

	db := openSchedulerDB(t)
	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() { config.SetDB(prev) })

	seedConfig(t, db, "tenant-a", true, nil, 120)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/tenants/:tenantId/integrations/tiny/sync", tinysync.SyncHandler())

	started := time.Now().UTC()
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/tenant-a/integrations/tiny/sync", strings.NewReader(""))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var cfg models.TinyIntegrationConfig
	if err := db.Where("tenant_id = ?", "tenant-a").Take(&cfg).Error; err != nil {
		t.Fatal(err)
	}
	if cfg.LastSyncAt == nil {
		t.Fatal("lastSyncAt not stamped after a manual sync")
	}
	if cfg.LastSyncAt.Before(started.Add(-time.Second)) {
		t.Fatalf("lastSyncAt = %s, want on or after %s", cfg.LastSyncAt, started)
	}
	if cfg.NextSyncAt == nil {
		t.Fatal("nextSyncAt not recomputed after a manual sync")
	}
	drift := cfg.NextSyncAt.Sub(cfg.LastSyncAt.Add(120 * time.Minute))
	if drift < -time.Second || drift > time.Second {
		t.Fatalf("nextSyncAt = %s, want lastSyncAt + 120m", cfg.NextSyncAt)
	}
}
