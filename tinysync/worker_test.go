package tinysync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lumeara/dre_backend/models"
)

func openWorkerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Transaction{}, &models.PCGAccount{}, &models.TinyIntegrationConfig{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSyncModulePersistsOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.URL.Path {
		case "/pedidos.pesquisa.php":
			writeRetorno(w, map[string]interface{}{
				"status": "OK",
				"pedidos": []interface{}{
					map[string]interface{}{"pedido": map[string]interface{}{"id": "1"}},
				},
			})
		case "/pedido.obter.php":
			writeRetorno(w, map[string]interface{}{
				"status": "OK",
				"pedido": map[string]interface{}{
					"id":          "1",
					"numero":      "1",
					"data_pedido": "15/01/2025",
					"valor_total": "300,00",
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	db := openWorkerDB(t)
	opts := SyncOptions{TenantId: "tenant-a", Token: "tok"}

	result := syncModule(context.Background(), db, testClient(srv.URL), ModuleOrders, opts, 50)
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Pulled != 1 || result.Persisted != 1 {
		t.Fatalf("result = %+v, want 1 pulled and 1 persisted", result)
	}

	var stored models.Transaction
	if err := db.Take(&stored).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Origin != "ERP:Tiny:orders" {
		t.Errorf("origin = %s", stored.Origin)
	}
	if stored.SourceRef == nil || *stored.SourceRef != "tiny:order:1" {
		t.Errorf("sourceRef = %v", stored.SourceRef)
	}
	if !stored.Amount.Equal(decimal.RequireFromString("300")) {
		t.Errorf("amount = %s, want 300", stored.Amount)
	}

	// second run revisits the same ref: everything becomes an update,
	// so nothing counts as persisted and nothing duplicates
	again := syncModule(context.Background(), db, testClient(srv.URL), ModuleOrders, opts, 50)
	if again.Error != "" {
		t.Fatalf("unexpected error: %s", again.Error)
	}
	if again.Pulled != 1 || again.Persisted != 0 {
		t.Fatalf("re-sync result = %+v, want 1 pulled and 0 persisted", again)
	}
	var count int64
	if err := db.Model(&models.Transaction{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 after re-sync", count)
	}
}

func TestSyncModuleIsolatesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := openWorkerDB(t)
	result := syncModule(context.Background(), db, testClient(srv.URL), ModuleOrders, SyncOptions{TenantId: "tenant-a", Token: "tok"}, 50)
	if result.Error == "" {
		t.Fatal("expected the module error to be recorded")
	}
	var count int64
	if err := db.Model(&models.Transaction{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want nothing persisted", count)
	}
}
