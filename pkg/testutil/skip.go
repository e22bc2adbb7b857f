// Package testutil holds helpers shared by the store test suites.
package testutil

import (
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// IntegrationEnv opts container-backed tests in.
const IntegrationEnv = "INTEGRATION_TESTS"

// RequireIntegration skips container-backed tests unless IntegrationEnv is
// set, in -short mode, and when no healthy container provider is reachable.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv(IntegrationEnv) == "" {
		t.Skipf("skipping integration test (set %s=1 to run)", IntegrationEnv)
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}
