// Package health serves the liveness endpoints of the Crier daemon.
package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Status is the supervisor state reported by the endpoints.
type Status struct {
	State        string    `json:"state"`
	Ready        bool      `json:"ready"`
	Since        time.Time `json:"since"`
	Retries      int       `json:"retries"`
	LastFailure  string    `json:"last_failure,omitempty"`
	Identity     string    `json:"identity,omitempty"`
	AuthRequired bool      `json:"auth_required"`
}

// Source provides the status and accepts operator restarts.
type Source interface {
	Status() Status
	Restart() bool
}

// StartOpts holds configuration for the health server.
type StartOpts struct {
	Source  Source
	Name    string // bot name shown by GET /
	Port    int
	Out     io.Writer
	Started chan<- net.Addr // optional; receives the bound address
}

// Start launches the health HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Source == nil {
		return fmt.Errorf("health: source is required")
	}
	if opts.Port < 0 {
		return fmt.Errorf("health: invalid port %d", opts.Port)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
	if err != nil {
		return fmt.Errorf("health: listen: %w", err)
	}
	srv := &http.Server{
		Handler:           NewRouter(opts.Source, opts.Name),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Health endpoint listening on %s\n", ln.Addr())
	}
	if opts.Started != nil {
		opts.Started <- ln.Addr()
	}

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with all health routes.
func NewRouter(src Source, name string) *gin.Engine {
	if name == "" {
		name = "Crier"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", handleIndex(name))
	router.GET("/healthz", handleHealthz(src))
	router.GET("/readyz", handleReadyz(src))
	router.POST("/restart", handleRestart(src))
	return router
}

func handleIndex(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "%s active", name)
	}
}

// handleHealthz reports the process as alive with the full status.
func handleHealthz(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Status())
	}
}

// handleReadyz returns 503 unless the session is ready.
func handleReadyz(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := src.Status()
		code := http.StatusOK
		if !st.Ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, st)
	}
}

func handleRestart(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !src.Restart() {
			c.JSON(http.StatusConflict, gin.H{"restarting": false, "error": "restart already pending"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"restarting": true})
	}
}
