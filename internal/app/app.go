// Package app wires all Driveline subsystems into a running call server.
//
// The App struct owns the full lifecycle: New creates and connects the stores
// and external clients, Run serves the HTTP surface (webhooks, the
// media-stream WebSocket, health, and metrics), and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithSessionStore,
// WithLLMProvider, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driveline-ai/driveline/internal/calendar"
	"github.com/driveline-ai/driveline/internal/call"
	"github.com/driveline-ai/driveline/internal/config"
	"github.com/driveline-ai/driveline/internal/health"
	"github.com/driveline-ai/driveline/internal/observe"
	"github.com/driveline-ai/driveline/internal/prompt"
	"github.com/driveline-ai/driveline/internal/store/postgres"
	redisstore "github.com/driveline-ai/driveline/internal/store/redis"
	"github.com/driveline-ai/driveline/internal/telephony"
	"github.com/driveline-ai/driveline/internal/tools"
	"github.com/driveline-ai/driveline/internal/vin"
	"github.com/driveline-ai/driveline/pkg/provider/llm"
	openaillm "github.com/driveline-ai/driveline/pkg/provider/llm/openai"
	"github.com/driveline-ai/driveline/pkg/provider/stt"
	sttdeepgram "github.com/driveline-ai/driveline/pkg/provider/stt/deepgram"
	"github.com/driveline-ai/driveline/pkg/provider/tts"
	ttsdeepgram "github.com/driveline-ai/driveline/pkg/provider/tts/deepgram"
)

// App owns all subsystem lifetimes and serves the Driveline call pipeline.
type App struct {
	cfg *config.Config
	loc *time.Location

	// Subsystems initialised in New, torn down in Shutdown.
	db       *postgres.Store
	sessions *redisstore.Store
	cal      tools.Calendar
	vin      tools.VINDecoder
	llm      llm.Provider
	metrics  *observe.Metrics

	// newSTT/newTTS build the per-call media clients. One client of each kind
	// exists per live call; they are never shared.
	newSTT func() (stt.Client, error)
	newTTS func() (tts.Client, error)

	checkers []health.Checker

	srv   *http.Server
	calls sync.WaitGroup

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of connecting from config.
func WithSessionStore(s *redisstore.Store) Option {
	return func(a *App) { a.sessions = s }
}

// WithDatabase injects a CRM store instead of connecting from config.
func WithDatabase(db *postgres.Store) Option {
	return func(a *App) { a.db = db }
}

// WithCalendar injects a calendar client instead of creating one from config.
func WithCalendar(c tools.Calendar) Option {
	return func(a *App) { a.cal = c }
}

// WithVINDecoder injects a VIN decoder instead of creating one from config.
func WithVINDecoder(d tools.VINDecoder) Option {
	return func(a *App) { a.vin = d }
}

// WithLLMProvider injects an LLM backend instead of creating one from config.
func WithLLMProvider(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithClientFactories injects the per-call STT/TTS constructors.
func WithClientFactories(newSTT func() (stt.Client, error), newTTS func() (tts.Client, error)) Option {
	return func(a *App) {
		a.newSTT = newSTT
		a.newTTS = newTTS
	}
}

// WithHealthCheckers replaces the default store-backed readiness checks.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(a *App) { a.checkers = checkers }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem; everything not injected is built
// from cfg, which must already be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		loc:     cfg.Calendar.Location(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}
	if err := a.initClients(); err != nil {
		return nil, fmt.Errorf("app: init clients: %w", err)
	}

	if a.checkers == nil {
		a.checkers = []health.Checker{
			health.Check("postgres", a.db),
			health.Check("redis", a.sessions),
		}
	}
	return a, nil
}

// initStores connects PostgreSQL and Redis unless both were injected.
func (a *App) initStores(ctx context.Context) error {
	if a.db == nil {
		db, err := postgres.NewStore(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, func() error {
			db.Close()
			return nil
		})
	}

	if a.sessions == nil {
		sessions, err := redisstore.New(ctx, a.cfg.Redis)
		if err != nil {
			return err
		}
		a.sessions = sessions
		a.closers = append(a.closers, sessions.Close)
	}
	return nil
}

// initClients builds the calendar, VIN, LLM, and per-call media client
// factories unless injected.
func (a *App) initClients() error {
	if a.cal == nil {
		cal, err := calendar.New(a.cfg.Calendar)
		if err != nil {
			return err
		}
		a.cal = cal
	}

	if a.vin == nil {
		dec, err := vin.New(a.cfg.VIN, a.sessions)
		if err != nil {
			return err
		}
		a.vin = dec
	}

	if a.llm == nil {
		p, err := openaillm.New(a.cfg.LLM.APIKey, a.cfg.LLM.Model)
		if err != nil {
			return err
		}
		a.llm = p
	}

	if a.newSTT == nil {
		cfg := a.cfg.STT
		a.newSTT = func() (stt.Client, error) {
			return sttdeepgram.New(cfg.APIKey, stt.Config{
				Model:          cfg.Model,
				Encoding:       cfg.Encoding,
				SampleRate:     cfg.SampleRate,
				Channels:       cfg.Channels,
				InterimResults: cfg.InterimResults,
				SmartFormat:    cfg.SmartFormat,
				EndpointingMs:  cfg.EndpointingMs,
				UtteranceEndMs: cfg.UtteranceEndMs,
			}, sttdeepgram.WithKeepaliveInterval(cfg.Keepalive))
		}
	}
	if a.newTTS == nil {
		cfg := a.cfg.TTS
		metrics := a.metrics
		a.newTTS = func() (tts.Client, error) {
			return ttsdeepgram.New(cfg.APIKey, tts.Config{
				Model:      cfg.Model,
				Encoding:   cfg.Encoding,
				SampleRate: cfg.SampleRate,
			}, ttsdeepgram.WithTTFBObserver(func(d time.Duration) {
				metrics.TTSFirstByte.Record(context.Background(), d.Seconds())
			}))
		}
	}
	return nil
}

// ─── HTTP surface ────────────────────────────────────────────────────────────

// Handler builds the full HTTP surface: telephony webhooks, the media-stream
// WebSocket, Prometheus metrics, and health probes, all behind the tracing
// middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /media-stream", a.handleMediaStream)
	mux.HandleFunc("POST /voice/inbound", a.handleInbound)
	mux.HandleFunc("POST /voice/outbound", a.handleOutbound)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.checkers...).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// handleMediaStream upgrades the telephony media WebSocket and runs one call
// to completion. The handler's lifetime is the call's lifetime.
func (a *App) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("media stream upgrade failed", "error", err)
		return
	}
	stream := telephony.NewStream(conn)

	sttClient, err := a.newSTT()
	if err != nil {
		slog.Error("stt client build failed", "error", err)
		stream.Close()
		return
	}
	ttsClient, err := a.newTTS()
	if err != nil {
		slog.Error("tts client build failed", "error", err)
		stream.Close()
		return
	}

	orch := call.New(call.Deps{
		Stream:       stream,
		STT:          sttClient,
		TTS:          ttsClient,
		LLM:          a.llm,
		Sessions:     a.sessions,
		Customers:    a.db.Customers(),
		Appointments: a.db.Appointments(),
		CallLogs:     a.db.CallLogs(),
		ToolFactory:  a.toolFactory,
		Prompt: prompt.Params{
			Hours:    a.cfg.BusinessHours,
			Location: a.loc,
		},
		Metrics:         a.metrics,
		Temperature:     a.cfg.LLM.Temperature,
		MaxTokens:       a.cfg.LLM.MaxTokens,
		BargeInMinChars: a.cfg.STT.BargeInMinChars,
	})

	a.calls.Add(1)
	defer a.calls.Done()
	if err := orch.Run(r.Context()); err != nil {
		slog.Error("call failed", "error", err)
	}
}

// toolFactory builds the per-call tool registry against the shared stores.
func (a *App) toolFactory(ci tools.CallInfo) *tools.Registry {
	return tools.New(tools.Deps{
		Customers:    a.db.Customers(),
		Vehicles:     a.db.Vehicles(),
		Appointments: a.db.Appointments(),
		Calendar:     a.cal,
		Cache:        a.sessions,
		VIN:          a.vin,
		Hours:        a.cfg.BusinessHours,
		Location:     a.loc,
	}, ci)
}

// handleInbound answers the inbound-call webhook with bootstrap markup that
// connects the call to the media-stream WebSocket.
func (a *App) handleInbound(w http.ResponseWriter, r *http.Request) {
	if !a.authorizeWebhook(w, r) {
		return
	}

	params := map[string]string{}
	if from := r.PostFormValue("From"); from != "" {
		params["caller_phone"] = from
	}
	slog.Info("inbound call", "caller", a.maskPII(params["caller_phone"]))
	a.writeBootstrap(w, params)
}

// handleOutbound answers the outbound-call webhook. The destination must be
// the configured test number; anything else is refused.
func (a *App) handleOutbound(w http.ResponseWriter, r *http.Request) {
	if !a.authorizeWebhook(w, r) {
		return
	}

	to := r.PostFormValue("To")
	if to == "" {
		to = r.URL.Query().Get("to")
	}
	if err := telephony.CheckOutboundTarget(a.cfg.Telephony.OutboundTestNumber, to); err != nil {
		slog.Warn("outbound target refused", "to", a.maskPII(to))
		http.Error(w, "outbound calls are restricted to the configured test number", http.StatusForbidden)
		return
	}

	params := map[string]string{"caller_phone": to}
	apptID := r.PostFormValue("appointment_id")
	if apptID == "" {
		apptID = r.URL.Query().Get("appointment_id")
	}
	if apptID != "" {
		params["appointment_id"] = apptID
	}
	slog.Info("outbound call", "to", a.maskPII(to), "appointment_id", apptID)
	a.writeBootstrap(w, params)
}

// authorizeWebhook parses the form and, when an auth token is configured,
// verifies the provider's webhook signature.
func (a *App) authorizeWebhook(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form payload", http.StatusBadRequest)
		return false
	}

	token := a.cfg.Telephony.AuthToken
	if token == "" {
		return true
	}

	url := "https://" + a.cfg.Server.PublicHost + r.URL.RequestURI()
	sig := r.Header.Get("X-Twilio-Signature")
	if !telephony.ValidateSignature(token, url, r.PostForm, sig) {
		slog.Warn("webhook signature rejected", "path", r.URL.Path)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return false
	}
	return true
}

func (a *App) writeBootstrap(w http.ResponseWriter, params map[string]string) {
	markup, err := telephony.BootstrapTwiML(telephony.MediaStreamURL(a.cfg.Server.PublicHost), params)
	if err != nil {
		http.Error(w, "bootstrap generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write(markup)
}

// maskPII hides all but the last four characters when masking is enabled.
func (a *App) maskPII(s string) string {
	if !a.cfg.Server.MaskPII || len(s) <= 4 {
		return s
	}
	return "****" + s[len(s)-4:]
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails. The context
// is also the base context of every call; cancelling it winds down live calls.
func (a *App) Run(ctx context.Context) error {
	a.srv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.ListenAndServe() }()

	slog.Info("server listening", "addr", a.cfg.Server.ListenAddr)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops accepting connections, waits for live calls to finish their
// teardown, then closes the stores in order. Respects the context deadline:
// remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.srv != nil {
			if err := a.srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "error", err)
			}
		}

		done := make(chan struct{})
		go func() {
			a.calls.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline reached with live calls")
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
