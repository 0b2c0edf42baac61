package mongostore_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/persistence/mongostore"
	"github.com/example/attendance-coordinator/internal/persistence/persistencetest"
)

var dbCounter atomic.Uint64

// openStore connects to the server named by ATTENDANCE_TEST_MONGO_URI and
// returns a store on a throwaway database.
func openStore(t *testing.T) persistence.Store {
	t.Helper()
	uri := os.Getenv("ATTENDANCE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("ATTENDANCE_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := fmt.Sprintf("attendance_test_%d_%d", time.Now().UnixNano(), dbCounter.Add(1))
	store, err := mongostore.Open(ctx, uri, name)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.DropDatabase(ctx); err != nil {
			t.Logf("failed to drop test database: %v", err)
		}
		_ = store.Close()
	})
	return store
}

func TestStoreContract(t *testing.T) {
	persistencetest.Run(t, openStore)
}
