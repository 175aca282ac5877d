package main

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ailijian/AgentlyFormat/internal/eventbus"
	"github.com/ailijian/AgentlyFormat/internal/obs"
	"github.com/ailijian/AgentlyFormat/pkg/agentlyformat"
)

var (
	servePort       string
	serveConfigPath string
	serveCachePath  string
	serveTraceLog   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP chunk-ingress / WebSocket event-egress demo server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "listen port")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a YAML config file (defaults are used if empty)")
	serveCmd.Flags().StringVar(&serveCachePath, "snapshot-cache", "", "optional badger directory for crash-recovery session snapshots")
	serveCmd.Flags().BoolVar(&serveTraceLog, "print-traces", false, "write spans to stderr as they complete")
}

func runServe(cmd *cobra.Command, args []string) error {
	provider, err := obs.New(obs.Config{ServiceName: "agentlyformat-server", PrintTraces: serveTraceLog})
	if err != nil {
		return err
	}
	defer provider.Shutdown(cmd.Context())

	opts := []agentlyformat.Option{agentlyformat.WithObservability(provider)}
	if serveConfigPath != "" {
		opts = append(opts, agentlyformat.WithConfigFile(serveConfigPath))
	}
	core, err := agentlyformat.New(opts...)
	if err != nil {
		return err
	}
	defer core.Shutdown()

	var cache *snapshotCache
	if serveCachePath != "" {
		cache, err = openSnapshotCache(serveCachePath)
		if err != nil {
			return err
		}
		defer cache.Close()
	}

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(provider.Registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		sessions.POST("", handleCreateSession(core, cache))
		sessions.POST("/:sessionId/chunks", handleIngestChunk(core, cache))
		sessions.POST("/:sessionId/finalize", handleFinalize(core))
		sessions.DELETE("/:sessionId", handleCloseSession(core))
		sessions.GET("/:sessionId/events", handleEventsWebSocket(core))
	}

	slog.Info("agentlyformat-server: listening", "port", servePort)
	return router.Run(":" + servePort)
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
}
