package capnweb

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/capnweb-go/capnweb/transport/httpbatch"
	"github.com/capnweb-go/capnweb/transport/wsconn"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for simplicity
	},
}

// SetupRpcEndpoint registers both a WebSocket and an HTTP POST batch
// endpoint for path, each backed by a fresh Session bound to a new root
// (spec §4.7: every connection or batch gets its own session, tables,
// and ID allocators). root is invoked once per connection/batch so that
// stateful Target implementations (the teacher's examples keep
// per-server, not per-connection, state) don't leak session-scoped data
// across sessions; stateless or shared-store Targets can simply return
// the same value every time.
func SetupRpcEndpoint(e *echo.Echo, path string, root func() Target, limits Limits) {
	// WebSocket endpoint: one persistent Session per connection.
	e.GET(path, func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return err
		}
		defer conn.Close()

		t := wsconn.New(conn)
		sess := NewSession(root(), limits, t)
		if err := sess.Run(c.Request().Context(), true); err != nil {
			log.Printf("WebSocket session ended: %v", err)
		}
		return nil
	})

	// HTTP POST endpoint: one batch Session per request.
	e.POST(path, func(c echo.Context) error {
		c.Response().Header().Set("Content-Type", "text/plain")
		defer c.Request().Body.Close()

		t := httpbatch.New(c.Request().Body)
		sess := NewSession(root(), limits, t)
		if err := sess.Run(c.Request().Context(), false); err != nil {
			log.Printf("Error processing HTTP batch: %v", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Error reading request body")
		}
		return c.String(http.StatusOK, t.Flush())
	})

	// OPTIONS endpoint is handled automatically by Echo CORS middleware.
}

// SetupEchoServer creates and configures an Echo server with common
// middleware, unchanged from the teacher's server.go.
func SetupEchoServer() *echo.Echo {
	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.HideBanner = true

	return e
}
