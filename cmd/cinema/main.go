package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/cinema"
	"github.com/mikeyg42/cinema/internal/config"
	"github.com/mikeyg42/cinema/internal/media"
	"github.com/mikeyg42/cinema/internal/playback"
	"github.com/mikeyg42/cinema/internal/protocol"
	"github.com/mikeyg42/cinema/internal/render"
	"github.com/mikeyg42/cinema/internal/session"
	"github.com/mikeyg42/cinema/internal/subtitle"
	"github.com/mikeyg42/cinema/internal/validate"
)

// Application struct that holds all components
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	registry *session.Registry
	sess     *cinema.Session
	acquirer *media.Acquirer
	sink     *render.WebMSink

	role      string
	hostID    string
	videoSrc  string
	audioPath string
	subsPath  string
	outPath   string
}

func main() {
	cfg := config.NewDefaultConfig()
	app := &Application{config: cfg}

	flag.StringVar(&cfg.RelayAddr, "relay", cfg.RelayAddr, "signaling relay address (host:port)")
	flag.StringVar(&app.role, "role", "host", "host or viewer")
	flag.StringVar(&app.hostID, "host", "", "host peer id to join (viewer role)")
	flag.StringVar(&app.videoSrc, "video", "", "video source: camera, screen, or an IVF file path")
	flag.StringVar(&app.audioPath, "audio", "", "Ogg/opus audio file path (file source only)")
	flag.StringVar(&app.subsPath, "subtitles", "", "SRT subtitle file path (host role)")
	flag.StringVar(&app.outPath, "out", "", "record remote streams to this WebM file")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	logger, err := buildLogger(*debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	app.logger = logger

	if err := validate.ValidateConfig(cfg); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer app.Cleanup()

	if err := app.Run(ctx); err != nil {
		logger.Fatal("error during screening", zap.Error(err))
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// relayRouter breaks the construction cycle between the registry and
// the negotiation session: the registry dispatches into it, and the
// session is installed once built.
type relayRouter struct {
	mu     sync.Mutex
	target session.Handler
}

func (r *relayRouter) set(h session.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = h
}

func (r *relayRouter) get() session.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

func (r *relayRouter) HandleCall(env protocol.Envelope) {
	if t := r.get(); t != nil {
		t.HandleCall(env)
	}
}

func (r *relayRouter) HandleAnswer(env protocol.Envelope) {
	if t := r.get(); t != nil {
		t.HandleAnswer(env)
	}
}

func (r *relayRouter) HandleTrickle(env protocol.Envelope) {
	if t := r.get(); t != nil {
		t.HandleTrickle(env)
	}
}

func (r *relayRouter) HandleBye(env protocol.Envelope) {
	if t := r.get(); t != nil {
		t.HandleBye(env)
	}
}

func (r *relayRouter) HandlePeerError(env protocol.Envelope) {
	if t := r.get(); t != nil {
		t.HandlePeerError(env)
	}
}

func (app *Application) Initialize(ctx context.Context) error {
	session.ProbeSTUN(ctx, app.config.STUNServers, app.logger)

	selector, err := media.NewCodecSelector(app.config)
	if err != nil {
		return fmt.Errorf("failed to configure codecs: %v", err)
	}
	app.acquirer = media.NewAcquirer(app.config, selector, app.logger)

	var surface render.Surface
	if app.outPath != "" {
		app.sink = render.NewWebMSink(app.outPath, app.logger)
		surface = app.sink
	} else {
		surface = render.NewPlaceholder(app.logger)
	}

	router := &relayRouter{}
	app.registry = session.NewRegistry(app.config, router, app.logger)

	sess, err := cinema.NewSession(app.config, app.registry, app.acquirer, surface, selector, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create session: %v", err)
	}
	app.sess = sess
	router.set(sess)

	id, err := app.registry.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to register with relay: %v", err)
	}
	app.logger.Info("joined relay", zap.String("peer_id", id), zap.String("role", app.role))
	return nil
}

func (app *Application) Run(ctx context.Context) error {
	switch app.role {
	case "host":
		return app.runHost(ctx)
	case "viewer":
		return app.runViewer(ctx)
	default:
		return fmt.Errorf("unknown role %q", app.role)
	}
}

func (app *Application) runHost(ctx context.Context) error {
	player := playback.NewVirtualPlayer()
	host := cinema.NewHost(app.sess, player, app.config, app.logger)
	host.SetChatHandler(func(from, text string) {
		fmt.Printf("[%s] %s\n", from, text)
	})

	if app.subsPath != "" {
		data, err := os.ReadFile(app.subsPath)
		if err != nil {
			return fmt.Errorf("failed to read subtitles: %v", err)
		}
		host.LoadSubtitles(subtitle.Parse(string(data)))
	}

	offer, err := app.acquireOffer()
	if err != nil {
		return fmt.Errorf("failed to acquire media: %v", err)
	}
	host.StartMovie(offer)
	host.Play()

	host.Run(ctx)
	return nil
}

func (app *Application) acquireOffer() (*media.Offer, error) {
	switch app.videoSrc {
	case "camera":
		return app.acquirer.Camera()
	case "screen":
		return app.acquirer.Screen()
	case "":
		return app.acquirer.Silence()
	default:
		return app.acquirer.File(app.videoSrc, app.audioPath)
	}
}

func (app *Application) runViewer(ctx context.Context) error {
	if app.hostID == "" {
		return fmt.Errorf("viewer role requires -host")
	}

	player := playback.NewVirtualPlayer()
	viewer := cinema.NewViewer(app.sess, app.hostID, player, app.config, app.logger)
	viewer.SetSubtitleHandler(func(text string) {
		if text == "" {
			return
		}
		fmt.Println(text)
	})
	viewer.SetChatHandler(func(from, text string) {
		fmt.Printf("[%s] %s\n", from, text)
	})

	if err := viewer.Join(); err != nil {
		return fmt.Errorf("failed to join screening: %v", err)
	}

	<-ctx.Done()
	viewer.Leave()
	return nil
}

func (app *Application) Cleanup() {
	if app.sess != nil {
		app.sess.Close()
	}
	if app.registry != nil {
		app.registry.Destroy()
	}
	if app.sink != nil {
		app.sink.Close()
	}
}
