package helpers

import (
	"github.com/google/uuid"

	"github.com/forgelab/spawn-orchestrator/internal/models"
)

// TestUser represents a test user fixture
type TestUser struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Default test fixtures
var DefaultTestUser = TestUser{
	Email:    "test@example.com",
	Password: "test-password-123",
}

// NewSpawnRecord builds a pending spawn row fixture
func NewSpawnRecord() *models.SpawnRecord {
	return &models.SpawnRecord{
		ID:          uuid.New(),
		Prompt:      "build me a notes app",
		Name:        "notes-app",
		Description: "A note taking web app",
		Platform:    "web",
		Features:    []string{"create notes", "list notes"},
		Summary:     "A small note taking app.",
		Status:      models.StatusPending,
	}
}

// GeneratedFiles builds a small generated project fixture
func GeneratedFiles() map[string]string {
	return map[string]string{
		"index.html": "<html><body>notes</body></html>",
		"app.js":     "console.log('notes')",
		"style.css":  "body { margin: 0; }",
	}
}
