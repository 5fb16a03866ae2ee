package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/media-policy-plane/internal/console/handler"
	"github.com/xela07ax/media-policy-plane/internal/infra"
	"github.com/xela07ax/media-policy-plane/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка RS256 токенов для защищенного периметра
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler       *handler.AuthHandler       // /auth/token
	policyHandler     *handler.PolicyHandler     // /v1/policies
	activationHandler *handler.ActivationHandler // /v1/activation (прогоны, promote, diff)
}

// NewConsoleServer инициализирует операторский API со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	authValidator auth.TokenValidator,
	authH *handler.AuthHandler,
	policyH *handler.PolicyHandler,
	activationH *handler.ActivationHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("console-api"),
		cfg:               cfg,
		authValidator:     authValidator,
		authHandler:       authH,
		policyHandler:     policyH,
		activationHandler: activationH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.authHandler.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. Защищенный периметр (RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Каталог политик (выбор кандидата)
		r.Route("/v1/policies", func(r chi.Router) {
			r.Get("/", s.policyHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.policyHandler.Get)
				r.Post("/prepare", s.activationHandler.Prepare) // Запуск прогона переоценки
			})
		})

		// Жизненный цикл прогонов активации
		r.Route("/v1/activation/runs/{id}", func(r chi.Router) {
			r.Get("/", s.activationHandler.Status)         // Поллинг прогресса
			r.Get("/diff", s.activationHandler.Diff)       // Отчет сравнения поколений
			r.Post("/promote", s.activationHandler.Promote) // Активация кандидата (гейты)
			r.Post("/cancel", s.activationHandler.Cancel)   // Отмена прогона
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
