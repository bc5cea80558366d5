package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/eosconnect/internal/config"
	"github.com/berfenger/eosconnect/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

const ACTOR_REQUEST_TIMEOUT = 10 * time.Second

type Server struct {
	port        uint
	httpLog     bool
	location    *time.Location
	rootContext *actor.RootContext
	masterActor *actor.PID
	store       port.StatusStore
	metrics     http.Handler
	logger      *zap.Logger
}

func New(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, store port.StatusStore,
	metrics http.Handler, logger *zap.Logger) *Server {
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	return &Server{
		port:        cfg.Port,
		httpLog:     cfg.HttpLog,
		location:    location,
		rootContext: rootContext,
		masterActor: masterActor,
		store:       store,
		metrics:     metrics,
		logger:      logger.With(zap.String("component", "http")),
	}
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, store port.StatusStore,
	metrics http.Handler, logger *zap.Logger) *http.Server {
	newServer := New(cfg, rootContext, masterActor, store, metrics, logger)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", newServer.port),
		Handler:      newServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}

func (s *Server) now() time.Time {
	return time.Now().In(s.location)
}
