//go:build e2e

package e2e

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
)

var testCtx *TestContext

func TestMain(m *testing.M) {
	flag.Parse()

	ctx := context.Background()
	testCtx = &TestContext{}

	log.Println("Starting Postgres container...")
	var err error
	testCtx.PostgresContainer, testCtx.ConnString, err = setupPostgresE(ctx)
	if err != nil {
		log.Fatalf("Failed to start postgres: %v", err)
	}
	log.Println("Postgres container started")

	code := m.Run()

	if err := testCtx.PostgresContainer.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate postgres container: %v", err)
	}
	os.Exit(code)
}
