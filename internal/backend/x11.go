package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/jimfengnpu/everywhere/internal/accessibility"
	"github.com/jimfengnpu/everywhere/internal/capture"
	"github.com/jimfengnpu/everywhere/internal/connection"
	"github.com/jimfengnpu/everywhere/internal/display"
	"github.com/jimfengnpu/everywhere/internal/hotkey"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/overlay"
	"github.com/jimfengnpu/everywhere/internal/resolver"
	"github.com/jimfengnpu/everywhere/internal/window"
	"github.com/jimfengnpu/everywhere/internal/worker"
)

// X11Config configures NewX11.
type X11Config struct {
	// Display overrides $DISPLAY when set.
	Display string

	Workers   int
	QueueSize int

	Accessibility      bool
	AccessibilityCalls time.Duration

	Style   overlay.Style
	Options Options
}

// NewX11 connects to the X server and, when enabled, the accessibility bus
// and assembles a backend over them. Accessibility failures only disable
// element-level refinement.
func NewX11(cfg X11Config) (*Backend, error) {
	log := logger.WithComponent("backend")

	xu, err := xgbutil.NewConnDisplay(cfg.Display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	conn := xu.Conn()
	closers := []func(){conn.Close}

	thread := connection.New(conn)
	handlers := worker.New("hotkey", cfg.Workers, cfg.QueueSize)
	hooks := worker.NewOrdered("hooks", cfg.QueueSize)
	closers = append(closers, handlers.Close, hooks.Close, thread.Close)

	keys := hotkey.NewX11(xu)
	registry := hotkey.NewRegistry(thread, keys, keys, handlers, hooks)

	windows := window.NewX11Source(xu)
	tree := window.NewTree(windows)
	screens := display.NewManager(display.NewX11Source(conn), tree)
	screens.Refresh()

	overlays := overlay.NewManager(conn, thread, cfg.Style)

	root := xu.RootWin()
	thread.AddDispatcher(registry.Dispatch)
	thread.AddDispatcher(tree.HandleEvent)
	thread.AddDispatcher(screens.HandleEvent(root))
	thread.AddDispatcher(overlays.HandleEvent)
	thread.Start()
	closers = append(closers, registry.Close)

	err = thread.Invoke(context.Background(), func() error {
		return xproto.ChangeWindowAttributesChecked(conn, root, xproto.CwEventMask, []uint32{
			xproto.EventMaskStructureNotify | xproto.EventMaskSubstructureNotify,
		}).Check()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to select root window events, window cache will not track destroyed windows")
	}

	parts := Parts{
		Hotkeys:  registry,
		Skip:     tree,
		Overlays: overlays,
		Pointer:  windows,
		Capturer: capture.NewCapturer(capture.NewX11Source(conn, thread)),
		Screens:  screens,
		Windows:  tree,
	}

	var refiner resolver.Refiner
	if cfg.Accessibility {
		if svc := startAccessibility(cfg.AccessibilityCalls); svc != nil {
			refiner = svc
			parts.Focus = svc
			closers = append(closers, func() {
				if err := svc.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close accessibility service")
				}
			})
		}
	}
	parts.Resolver = resolver.New(screens, tree, refiner, windows)
	parts.Closers = closers

	log.Info().
		Int("screens", len(screens.All())).
		Bool("accessibility", refiner != nil).
		Bool("translucent_overlays", overlays.Translucent()).
		Msg("X11 backend ready")
	return New(parts, cfg.Options), nil
}

func startAccessibility(timeout time.Duration) *accessibility.Service {
	log := logger.WithComponent("backend")
	client, err := accessibility.Connect(timeout)
	if err != nil {
		log.Info().Err(err).Msg("Accessibility bus unavailable, elements resolve to windows")
		return nil
	}
	var opts []accessibility.Option
	if timeout > 0 {
		opts = append(opts, accessibility.WithCallTimeout(timeout))
	}
	svc := accessibility.NewService(client, opts...)
	if err := svc.Start(); err != nil {
		log.Warn().Err(err).Msg("Accessibility focus tracking unavailable, hit testing still works")
	}
	return svc
}
