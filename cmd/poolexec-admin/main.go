// Command poolexec-admin runs a procpool.Pool of interactive shells and
// exposes its observability getters over a small HTTP API (GET endpoints,
// plus POST /shutdown to begin an orderly pool shutdown), for manual
// inspection while iterating on pool sizing.
package main

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edirooss/procpool"
	"github.com/edirooss/procpool/examples/shellmgr"
)

// zapLogger is Gin middleware that logs each request through log, with its
// method, route, status, client IP and latency as structured fields.
func zapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		var errs []error
		for _, ge := range c.Errors {
			if ge.Err != nil {
				errs = append(errs, ge.Err)
			}
		}
		joinedErr := errors.Join(errs...)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", latency),
		}
		if joinedErr != nil {
			fields = append(fields, zap.Error(joinedErr))
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

func main() {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	log := zap.Must(logConfig.Build())
	defer log.Sync()
	log = log.Named("main")

	pool, err := procpool.NewPool(procpool.PoolConfig{
		ManagerFactory: func() (procpool.ProcessManager, error) {
			return shellmgr.New(""), nil
		},
		Min:       2,
		Max:       8,
		Reserve:   1,
		KeepAlive: 30 * time.Second,
		Verbose:   true,
		Logger:    log,
	})
	if err != nil {
		log.Fatal("pool construction failed", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})
	r.Use(gin.Recovery())

	if os.Getenv("ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins: []string{"http://localhost:5173"},
			AllowMethods: []string{"GET"},
		}))
	}

	r.Use(zapLogger(log))

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"num_processes": pool.NumProcesses(),
			"num_queued":    pool.NumQueuedSubmissions(),
			"num_executing": pool.NumExecutingSubmissions(),
			"shutdown":      pool.IsShutdown(),
			"terminated":    pool.IsTerminated(),
		})
	})

	r.GET("/executors/:id/output", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		n := 50
		if v := c.Query("n"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				n = parsed
			}
		}
		c.JSON(http.StatusOK, gin.H{"lines": pool.RecentOutput(id, n)})
	})

	r.POST("/shutdown", func(c *gin.Context) {
		pool.Shutdown()
		c.JSON(http.StatusAccepted, gin.H{"shutdown": true})
	})

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Info("listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
