package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hypernova-labs/fiscal-service/internal/api"
	"github.com/hypernova-labs/fiscal-service/internal/config"
	"github.com/hypernova-labs/fiscal-service/internal/database"
	"github.com/hypernova-labs/fiscal-service/internal/email"
	"github.com/hypernova-labs/fiscal-service/internal/pac"
	"github.com/hypernova-labs/fiscal-service/internal/services"
	"github.com/hypernova-labs/fiscal-service/internal/workflows"
	"github.com/sirupsen/logrus"
)

func main() {
	// Cargar configuración
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	// Configurar logging
	logger := setupLogger(cfg)
	logger.Info("Starting Fiscal Service...")

	// Configurar modo de Gin
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Conectar a la base de datos
	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatalf("Error connecting to database: %v", err)
	}
	defer db.Close()

	// Conectar a Redis (opcional: sin Redis no hay leases entre instancias)
	redis, err := database.ConnectRedis(cfg)
	if err != nil {
		logger.Warnf("Error connecting to Redis: %v", err)
		redis = nil
	} else {
		defer redis.Close()
	}

	// Inicializar storage de certificados
	var storageClient *database.StorageClient
	if cfg.Storage.Endpoint != "" && cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		storageClient, err = database.NewStorageClient(&cfg.Storage, logger)
		if err != nil {
			logger.Warnf("Error initializing storage client: %v", err)
			storageClient = nil
		} else {
			if err := storageClient.HealthCheck(); err != nil {
				logger.Warnf("Storage health check failed: %v", err)
			} else {
				logger.Info("Certificate storage connection healthy")
			}
		}
	} else {
		logger.Warn("Storage credentials not provided, certificate upload will not be available")
	}

	// Inicializar servicio de Resend
	var resendService *email.ResendService
	if cfg.Email.ResendAPIKey != "" {
		resendService = email.NewResendService(cfg.Email.ResendAPIKey, cfg.Email.FromAddress, cfg.Server.BaseURL, logger)
		logger.Info("Resend service initialized successfully")
	} else {
		logger.Warn("Resend API key not provided, outcome emails will not be sent")
	}

	// Repositorios
	integrationRepo := database.NewIntegrationRepository(db, logger)
	certificateRepo := database.NewCertificateRepository(db, logger)
	documentRepo := database.NewDocumentRepository(db, logger)

	// Cliente del gateway fiscal
	gateway := pac.NewClient(cfg.PAC, logger)

	// Servicios
	integrationService := services.NewIntegrationService(integrationRepo, logger)

	var containerStorage services.ContainerStorage
	if storageClient != nil {
		containerStorage = storageClient
	}
	certificateService := services.NewCertificateService(certificateRepo, containerStorage, integrationRepo, logger)

	ledgerService := services.NewLedgerService(documentRepo, gateway, logger)

	var leases services.LeaseStore
	if redis != nil {
		leases = redis
	}
	var notifier services.OutcomeNotifier
	if resendService != nil {
		notifier = resendService
	}
	reconcilerService := services.NewReconcilerService(documentRepo, integrationRepo, ledgerService, gateway, leases, notifier, cfg.Reconciler, logger)

	orchestrator := services.NewOrchestratorService(integrationService, certificateService, ledgerService, reconcilerService, integrationRepo, gateway, cfg.PAC.RequestTimeout, logger)

	// Inicializar cliente de Inngest (opcional)
	inngestClient, err := workflows.NewInngestClient(cfg, logger)
	if err != nil {
		logger.Warnf("Error initializing Inngest client: %v", err)
		inngestClient = nil
	} else {
		if err := inngestClient.RegisterWorkflows(reconcilerService); err != nil {
			logger.Warnf("Error registering workflows: %v", err)
		}
	}

	// Arrancar el reconciliador en background
	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	go reconcilerService.Run(reconcilerCtx)

	// Inicializar API
	apiHandler := api.NewAPI(orchestrator, inngestClient, logger)

	// Configurar router
	router := setupRouter(apiHandler, db, redis, reconcilerService, inngestClient, cfg)

	// Crear servidor HTTP
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Canal para señales de terminación
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Iniciar servidor en goroutine
	go func() {
		logger.Infof("Server starting on %s:%s", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	// Esperar señal de terminación
	<-quit
	logger.Info("Shutting down server...")

	stopReconciler()

	// Contexto con timeout para shutdown graceful
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown graceful del servidor
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	db.LogStats(logger)
	if redis != nil {
		redis.LogStats(logger)
	}

	logger.Info("Server exited")
}

// setupLogger configura el logger según la configuración
func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	// Configurar nivel de log
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Configurar formato
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

// setupRouter configura el router principal
func setupRouter(apiHandler *api.API, db *database.DB, redis *database.Redis, reconciler *services.ReconcilerService, inngestClient *workflows.InngestClient, cfg *config.Config) *gin.Engine {
	router := gin.New()

	// Middleware global
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Middleware de CORS para desarrollo
	if cfg.IsDevelopment() {
		router.Use(func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(204)
				return
			}

			c.Next()
		})
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		checks := gin.H{}

		if err := db.HealthCheck(); err != nil {
			status = "degraded"
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
		if redis != nil {
			if err := redis.HealthCheck(); err != nil {
				status = "degraded"
				checks["redis"] = err.Error()
			} else {
				checks["redis"] = "ok"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"checks":    checks,
			"timestamp": time.Now().UTC(),
			"service":   "fiscal-service",
			"version":   "1.0.0",
			"reconciler": gin.H{
				"passes":        reconciler.Passes(),
				"soft_failures": reconciler.SoftFailures(),
			},
		})
	})

	// Endpoint de invocación de los workflows de Inngest
	if inngestClient != nil {
		router.Any("/api/inngest", gin.WrapH(inngestClient.Serve()))
	}

	// API v1
	v1 := router.Group("/v1")
	{
		tenants := v1.Group("/tenants/:tenant_id")
		{
			// Integración fiscal
			tenants.PUT("/integration", apiHandler.ConfigureIntegration)
			tenants.GET("/integration", apiHandler.GetIntegration)

			// Certificado digital
			tenants.POST("/certificate", apiHandler.UploadCertificate)
			tenants.GET("/certificate", apiHandler.GetCertificate)

			// Aprovisionamiento ante el gateway
			tenants.POST("/provision", apiHandler.ProvisionCompany)

			// Documentos fiscales
			tenants.POST("/documents", apiHandler.IssueDocument)
			tenants.GET("/documents", apiHandler.ListDocuments)
			tenants.GET("/documents/:ref", apiHandler.GetDocument)
			tenants.POST("/documents/:ref/refresh", apiHandler.RefreshDocumentStatus)
			tenants.POST("/documents/:ref/cancel", apiHandler.CancelDocument)
		}
	}

	return router
}
