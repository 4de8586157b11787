package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seatboard/internal/archive"
	"seatboard/internal/auth"
	"seatboard/internal/config"
	"seatboard/internal/httpmiddleware"
	"seatboard/internal/ident"
	"seatboard/internal/persist"
	"seatboard/internal/photo"
	"seatboard/internal/picker"
	"seatboard/internal/queue"
	"seatboard/internal/roster"
	"seatboard/internal/store"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seatboard_mutations_total",
		Help: "Roster mutations by operation.",
	}, []string{"op"})
	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seatboard_snapshot_saves_total",
		Help: "Snapshot save attempts by result.",
	}, []string{"result"})
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, state will not survive restarts: %v", err)
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	// Roster mutations must keep working when durable storage is down, so
	// the board falls back to in-memory backends.
	var kv persist.KV = persist.NewMemoryKV()
	var photos photo.Store = photo.NewMemory()
	if db != nil {
		if err := db.EnsureSchema(ctx); err != nil {
			log.Printf("warning: schema bootstrap failed: %v", err)
		} else {
			kv = persist.NewPostgresKV(db.Client)
			photos = photo.NewPostgres(db.Client)
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, "seatboard:saves")
	} else {
		q = queue.NewInMemory(64)
	}

	gateway := persist.NewGateway(kv, cfg.SnapshotSlot)
	grid := roster.GridConfig{Rows: cfg.GridRows, Cols: cfg.GridCols}
	rst := roster.New(grid, ident.New, nil)

	saver := persist.NewAutosaver(q, gateway, rst.Snapshot, cfg.SaveDebounce)
	saver.OnResult = func(err error) {
		if err != nil {
			savesTotal.WithLabelValues("error").Inc()
			return
		}
		savesTotal.WithLabelValues("ok").Inc()
	}
	rst.SetOnChange(func() { saver.Trigger(ctx) })

	// Hydrate before serving; corrupt or missing snapshots start empty.
	if snap, err := gateway.Load(ctx); err != nil {
		log.Printf("snapshot load failed, starting empty: %v", err)
	} else {
		rst.Hydrate(snap)
	}
	go func() {
		if err := saver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("autosaver stopped: %v", err)
		}
	}()

	pick := picker.New(0)
	bundles := archive.New(rst, photos, gateway)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if cfg.QueueBackend == "redis" && !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/boards/register", func(c *gin.Context) {
		var req struct {
			BoardID string `json:"board_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.BoardID, "board", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	v1 := r.Group("/v1", auth.BoardAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	v1.GET("/roster", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"students":      rst.Students(),
			"seats":         rst.Seats(),
			"counts":        rst.Counts(),
			"printSettings": rst.PrintSettings(),
		})
	})

	v1.POST("/students", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st, err := rst.AddStudent(req.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mutationsTotal.WithLabelValues("add_student").Inc()
		c.JSON(http.StatusCreated, st)
	})

	v1.POST("/students/batch", func(c *gin.Context) {
		var req struct {
			Names []string `json:"names" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		added := rst.AddStudentList(req.Names)
		mutationsTotal.WithLabelValues("add_student_list").Inc()
		c.JSON(http.StatusCreated, gin.H{"added": added})
	})

	// Not under /students: a static segment there would collide with the
	// :id photo routes in gin's route tree.
	v1.GET("/search", func(c *gin.Context) {
		matches := rst.Search(c.Query("q"))
		if matches == nil {
			matches = []roster.Student{}
		}
		c.JSON(http.StatusOK, gin.H{"students": matches})
	})

	v1.DELETE("/students/:id", func(c *gin.Context) {
		rst.RemoveStudent(c.Param("id"))
		mutationsTotal.WithLabelValues("remove_student").Inc()
		c.Status(http.StatusNoContent)
	})

	v1.POST("/students/clear", func(c *gin.Context) {
		rst.ClearAllStudents()
		mutationsTotal.WithLabelValues("clear_students").Inc()
		c.Status(http.StatusNoContent)
	})

	v1.POST("/seats/assign", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			SeatID    string `json:"seat_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rst.AssignStudentToSeat(req.StudentID, req.SeatID)
		mutationsTotal.WithLabelValues("assign_seat").Inc()
		c.JSON(http.StatusOK, gin.H{"counts": rst.Counts()})
	})

	v1.POST("/seats/unassign", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rst.RemoveStudentFromSeat(req.StudentID)
		mutationsTotal.WithLabelValues("unassign_seat").Inc()
		c.JSON(http.StatusOK, gin.H{"counts": rst.Counts()})
	})

	v1.POST("/seats/clear", func(c *gin.Context) {
		rst.ClearAllSeats()
		mutationsTotal.WithLabelValues("clear_seats").Inc()
		c.JSON(http.StatusOK, gin.H{"counts": rst.Counts()})
	})

	v1.GET("/pick", func(c *gin.Context) {
		st, err := pick.Pick(rst.Students())
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no students available"})
			return
		}
		c.JSON(http.StatusOK, st)
	})

	v1.PUT("/students/:id/photo", func(c *gin.Context) {
		blob, err := readPhotoUpload(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := photos.Put(c.Request.Context(), c.Param("id"), blob); err != nil {
			log.Printf("photo put failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo storage failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"student_id": c.Param("id"), "bytes": len(blob)})
	})

	v1.GET("/students/:id/photo", func(c *gin.Context) {
		rec, err := photos.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			log.Printf("photo get failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo storage failed"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no photo"})
			return
		}
		c.Data(http.StatusOK, "image/jpeg", rec.ImageData)
	})

	v1.DELETE("/students/:id/photo", func(c *gin.Context) {
		if err := photos.Delete(c.Request.Context(), c.Param("id")); err != nil {
			log.Printf("photo delete failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo storage failed"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.GET("/export", func(c *gin.Context) {
		var buf bytes.Buffer
		if err := bundles.Export(c.Request.Context(), &buf); err != nil {
			log.Printf("export failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		name := fmt.Sprintf("classroom-data-%s.zip", time.Now().UTC().Format("2006-01-02"))
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Data(http.StatusOK, "application/zip", buf.Bytes())
	})

	v1.POST("/import", func(c *gin.Context) {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		if err := bundles.Import(c.Request.Context(), bytes.NewReader(data), int64(len(data))); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, archive.ErrInvalidArchive) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		mutationsTotal.WithLabelValues("import").Inc()
		c.JSON(http.StatusOK, gin.H{"counts": rst.Counts()})
	})

	v1.DELETE("/data", func(c *gin.Context) {
		if claims, ok := auth.ClaimsFrom(c); ok {
			log.Printf("board %s wiped all data", claims.Subject)
		}
		// Hydrate with an empty snapshot rather than ClearAllStudents: a
		// mutation would queue a save that recreates the slot just deleted.
		rst.Hydrate(roster.Snapshot{})
		if err := gateway.Clear(c.Request.Context()); err != nil {
			log.Printf("clear persisted data failed: %v", err)
		}
		mutationsTotal.WithLabelValues("clear_data").Inc()
		c.Status(http.StatusNoContent)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	// One last synchronous save so the freshest roster lands on disk.
	if err := gateway.Save(shutdownCtx, rst.Snapshot()); err != nil {
		log.Printf("final save failed: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// readPhotoUpload accepts either a multipart file field or a JSON body with
// a base64 data URL, matching both upload paths the board UI uses.
func readPhotoUpload(c *gin.Context) ([]byte, error) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			return nil, errors.New("file field required")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, errors.New("read file failed")
		}
		if len(data) == 0 {
			return nil, errors.New("empty image")
		}
		return data, nil
	}

	var body struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, errors.New(`provide {"data": "<base64 data URL>"}`)
	}
	payload := body.Data
	if idx := strings.Index(payload, ","); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.New("invalid base64 image")
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
