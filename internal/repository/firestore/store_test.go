package firestore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/domain-chat/backend/internal/repository/firestore"
	"github.com/zhouzirui/domain-chat/backend/internal/repository/repotest"
)

// Runs only against the emulator, e.g.
// gcloud emulators firestore start --host-port=localhost:8681
func TestStoreContract(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	repotest.Run(t, func(t *testing.T) repotest.Repository {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// A project per subtest keeps the emulator data isolated.
		project := fmt.Sprintf("chat-test-%d", time.Now().UnixNano())
		store, err := firestore.NewStore(ctx, project, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
