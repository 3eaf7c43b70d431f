// seed-pcg seeds the default plano de contas gerencial for a tenant.
// Existing accounts with the same code are left untouched.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-pcg -tenant <tenantId>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lumeara/dre_backend/config"
	"github.com/lumeara/dre_backend/models"
	"github.com/lumeara/dre_backend/utils"
)

func main() {
	tenantId := flag.String("tenant", "", "tenant id to seed")
	flag.Parse()
	if *tenantId == "" {
		fmt.Fprintln(os.Stderr, "usage: seed-pcg -tenant <tenantId>")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := utils.SetTenantIdInContext(context.Background(), *tenantId)
	if err := models.SeedDefaultPCG(ctx, db, *tenantId); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed accounts: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded default accounts for tenant %s\n", *tenantId)
}
