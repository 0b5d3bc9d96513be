package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/chattingus/realtime/internal/auth"
	"github.com/chattingus/realtime/internal/coordinator"
	"github.com/chattingus/realtime/internal/fanout"
	"github.com/chattingus/realtime/internal/notify"
	"github.com/chattingus/realtime/internal/server"
	"github.com/chattingus/realtime/internal/store/mongodb"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const preferenceCacheTTL = 30 * time.Second

type App struct {
	logger          *zap.Logger
	settings        Settings
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

func NewApp(logger *zap.Logger, settings Settings, st *mongodb.Store) *App {
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       server.NewOriginChecker(settings.AllowedOrigins),
		EnableCompression: true,
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret)
	registry := fanout.NewInMemoryRegistry(logger)
	dispatcher := fanout.NewDispatcher(logger, registry)
	preferences := notify.NewPreferenceCache(st, preferenceCacheTTL)

	var push notify.PushSender
	if settings.FCMServerKey != "" {
		push = notify.NewFCMSender(settings.FCMEndpoint, settings.FCMServerKey)
	} else {
		push = notify.NewNopSender(logger)
	}

	var email notify.EmailSender
	if settings.SMTPHost != "" {
		email = notify.NewSMTPSender(settings.SMTPHost, settings.SMTPPort,
			settings.SMTPUsername, settings.SMTPPassword, settings.EmailFrom)
	} else {
		email = notify.NewNopSender(logger)
	}

	coord := coordinator.New(logger, st, registry, dispatcher, preferences, push, email)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		authenticator,
		registry,
		dispatcher,
		coord,
		st,
	)
	restServer := server.NewRESTServer(
		logger,
		coord,
		preferences,
		settings.APIKeys,
	)

	return &App{
		logger,
		settings,
		websocketServer,
		restServer,
	}
}

func (a *App) startHttpServer(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Fatal("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		logger.Fatal("failed to parse settings from environment", zap.Error(err))
	}

	logger, err = buildZapLogger(settings.LogEncoding)
	if err != nil {
		logger.Fatal("failed to build logger", zap.Error(err))
	}

	client, err := mongo.Connect(options.Client().ApplyURI(settings.MongoDBURI))
	if err != nil {
		logger.Fatal("failed to connect to mongodb", zap.Error(err))
	}
	defer client.Disconnect(ctx)

	st := mongodb.NewStore(client)

	setupCtx, setupCancel := context.WithTimeout(ctx, 30*time.Second)
	defer setupCancel()

	if err := st.Setup(setupCtx); err != nil {
		logger.Fatal("failed to setup mongodb indexes", zap.Error(err))
	}

	app := NewApp(logger, settings, st)
	app.startHttpServer(ctx)
}
