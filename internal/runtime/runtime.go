package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-chat/internal/bus"
	"github.com/loqalabs/loqa-chat/internal/config"
	"github.com/loqalabs/loqa-chat/internal/history"
	"github.com/loqalabs/loqa-chat/internal/ingest"
	"github.com/loqalabs/loqa-chat/internal/langdetect"
	"github.com/loqalabs/loqa-chat/internal/llm"
	"github.com/loqalabs/loqa-chat/internal/natsserver"
	"github.com/loqalabs/loqa-chat/internal/orchestrator"
	"github.com/loqalabs/loqa-chat/internal/stt"
	"github.com/loqalabs/loqa-chat/internal/transcode"
	"github.com/loqalabs/loqa-chat/internal/tts"
	"github.com/loqalabs/loqa-chat/internal/workerpool"
)

type Runtime struct {
	cfg         config.Config
	version     string
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	pool     *workerpool.Pool
	store    *history.Store
	natsSrv  *natsserver.EmbeddedServer
	busCli   *bus.Client
	handler  http.Handler
	metricsH http.Handler
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metricsH = metricsHandler

	if err := r.build(ctx); err != nil {
		r.close(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.close(shutdownCtx)

	return nil
}

// build wires every component from configuration and assembles the HTTP handler.
func (r *Runtime) build(ctx context.Context) error {
	cfg := r.cfg
	r.pool = workerpool.New(cfg.Workers.MaxConcurrency)

	store, err := history.Open(ctx, cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	r.store = store

	var publisher orchestrator.Publisher
	if cfg.Bus.Enabled {
		client, err := r.connectBus(ctx)
		if err != nil {
			return err
		}
		publisher = client
	}

	backend, catalog, err := newModelBackend(cfg.LLM)
	if err != nil {
		return err
	}

	var speech orchestrator.Synthesizer
	if cfg.TTS.Enabled {
		synth, err := newSynthesizer(cfg.TTS)
		if err != nil {
			return err
		}
		speech = tts.NewService(tts.OptionsFromConfig(cfg.TTS), synth, r.pool, r.logger)
	}

	recognizer, err := newRecognizer(cfg.STT)
	if err != nil {
		return err
	}
	chain, err := transcode.NewChain(cfg.Transcode, transcode.NewPooledRunner(transcode.NewExecRunner(), r.pool), r.logger)
	if err != nil {
		return fmt.Errorf("configure transcode: %w", err)
	}
	pipeline := ingest.New(chain, stt.NewService(recognizer, r.pool, r.logger), cfg.Transcode.TempDir, cfg.STT.Language, r.logger)

	orch := orchestrator.New(orchestrator.Deps{
		Model:        llm.NewAdapter(backend),
		Speech:       speech,
		Detector:     langdetect.New("en"),
		History:      store,
		Publisher:    publisher,
		ModelTimeout: time.Duration(cfg.LLM.RequestTimeoutMS) * time.Millisecond,
		Logger:       r.logger,
	})

	api := &chatAPI{
		store:     store,
		catalog:   catalog,
		ingest:    pipeline,
		replies:   orch,
		publisher: publisher,
		chat:      cfg.Chat,
		logger:    r.logger.With(slog.String("component", "http")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metricsH != nil {
		mux.Handle("/metrics", r.metricsH)
	}
	if cfg.TTS.Enabled {
		prefix := strings.TrimRight(cfg.TTS.URLPrefix, "/") + "/"
		mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.TTS.AudioDir))))
	}
	api.register(mux)
	r.handler = withSession(mux)
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, error) {
	busCfg := r.cfg.Bus
	srv, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.natsSrv = srv
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.busCli = client
	if err := client.EnsureEventStream(); err != nil {
		r.logger.Warn("event stream unavailable", slog.String("error", err.Error()))
	}
	return client, nil
}

func (r *Runtime) close(ctx context.Context) {
	if r.pool != nil {
		r.pool.Wait()
	}
	if r.busCli != nil {
		r.busCli.Close()
	}
	r.natsSrv.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("history close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func newModelBackend(cfg config.LLMConfig) (llm.Backend, llm.Catalog, error) {
	switch cfg.Mode {
	case "ollama":
		backend := llm.NewOllamaBackend(cfg.Endpoint, &http.Client{})
		if len(cfg.Models) > 0 {
			return backend, llm.StaticCatalog(cfg.Models), nil
		}
		return backend, backend, nil
	case "exec":
		backend, err := llm.NewExecBackend(cfg.Command)
		if err != nil {
			return nil, nil, err
		}
		return backend, llm.StaticCatalog(cfg.Models), nil
	default:
		models := cfg.Models
		if len(models) == 0 {
			models = []string{"mock"}
		}
		return llm.NewMockBackend(), llm.StaticCatalog(models), nil
	}
}

func newSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	if cfg.Mode == "exec" {
		return tts.NewExecSynth(cfg.Command)
	}
	return tts.NewMockSynth(), nil
}

func newRecognizer(cfg config.STTConfig) (stt.Recognizer, error) {
	if cfg.Mode == "exec" {
		return stt.NewExecRecognizer(cfg)
	}
	return stt.NewMockRecognizer(), nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.ready.Load() && r.dependenciesReady(req.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) dependenciesReady(ctx context.Context) bool {
	if r.store != nil {
		if err := r.store.Ping(ctx); err != nil {
			return false
		}
	}
	if r.cfg.Bus.Enabled && !r.busCli.Healthy() {
		return false
	}
	return true
}
