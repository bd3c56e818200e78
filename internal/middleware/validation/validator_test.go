package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxQuestionLength: 50, Logger: zap.NewNop()}))
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	app.Post("/api/v1/documents", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) int {
	t.Helper()

	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestChatValidation(t *testing.T) {
	app := newTestApp()

	assert.Equal(t, fiber.StatusOK, postJSON(t, app, "/api/v1/chat", `{"question": "Who is Nick?"}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/api/v1/chat", `{"question": "   "}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/api/v1/chat", `{"question": 42}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/api/v1/chat", `not json`))

	long := strings.Repeat("x", 60)
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/api/v1/chat", `{"question": "`+long+`"}`))
}

func TestDocumentValidation(t *testing.T) {
	app := newTestApp()

	assert.Equal(t, fiber.StatusOK, postJSON(t, app, "/api/v1/documents", `{"source_name": "a", "content": "text"}`))
	assert.Equal(t, fiber.StatusBadRequest, postJSON(t, app, "/api/v1/documents", `{"source_name": "a"}`))
}

func TestContentTypeRejection(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader("question=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}
