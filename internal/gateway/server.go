// Package gateway implements the client-facing bancho HTTP surface:
// the login/heartbeat endpoint, the packet dispatch loop, and the glue
// between the wire codec, the session store, the notify queue, and the
// collaborator services.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dantte-lp/gobancho/internal/bancho"
	banchometrics "github.com/dantte-lp/gobancho/internal/metrics"
	"github.com/dantte-lp/gobancho/internal/service"
	"github.com/dantte-lp/gobancho/internal/state"
	appversion "github.com/dantte-lp/gobancho/internal/version"
)

// HTTP headers of the bancho endpoint.
const (
	HeaderOsuToken    = "osu-token"
	HeaderOsuVersion  = "osu-version"
	HeaderChoToken    = "cho-token"
	HeaderChoProtocol = "cho-protocol"
	HeaderRealIP      = "x-real-ip"
)

// choProtocolValue is the fixed cho-protocol response header value.
const choProtocolValue = "19"

// clientUserAgent is the only User-Agent the bancho endpoint accepts.
const clientUserAgent = "osu!"

// tokenFailed is the cho-token value on login failure; the client reads
// it as "do not retry with this token".
const tokenFailed = "failed"

// ErrServerBusy is mapped to 503 by the error handler.
var ErrServerBusy = errors.New("server busy")

// Options configures the gateway surface.
type Options struct {
	// ConcurrencyLimit caps in-flight requests; 0 disables the cap.
	ConcurrencyLimit int

	// RequestTimeout bounds each request's wall clock.
	RequestTimeout time.Duration

	// LoginRetryMax and LoginRetryWindow configure the per-IP login
	// throttle.
	LoginRetryMax    int
	LoginRetryWindow time.Duration

	// Welcome is the login notification text.
	Welcome string

	// MenuIcon is the "image_url|click_url" main menu banner.
	MenuIcon string
}

// Gateway is the bancho HTTP application.
type Gateway struct {
	store     *state.Store
	notify    *state.NotifyQueue
	users     service.UserRepository
	signature service.SignatureService
	geoip     service.GeoIPService
	chat      service.ChatService

	pwcache *PasswordCache
	limiter *LoginLimiter
	metrics *banchometrics.Collector
	logger  *slog.Logger

	welcome  string
	menuIcon string
	timeout  time.Duration

	handlers map[bancho.PacketID]packetHandler

	specMu     sync.Mutex
	spectators map[int32]map[int32]struct{}
	lobby      map[int32]struct{}

	echo *echo.Echo
	sem  chan struct{}
}

// New constructs the gateway application and its routes.
func New(
	store *state.Store,
	notify *state.NotifyQueue,
	users service.UserRepository,
	signature service.SignatureService,
	geoip service.GeoIPService,
	chat service.ChatService,
	collector *banchometrics.Collector,
	logger *slog.Logger,
	opts Options,
) *Gateway {
	if opts.Welcome == "" {
		opts.Welcome = "Welcome to gobancho!"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	g := &Gateway{
		store:      store,
		notify:     notify,
		users:      users,
		signature:  signature,
		geoip:      geoip,
		chat:       chat,
		pwcache:    NewPasswordCache(),
		limiter:    NewLoginLimiter(opts.LoginRetryMax, opts.LoginRetryWindow),
		metrics:    collector,
		logger:     logger.With(slog.String("component", "gateway")),
		welcome:    opts.Welcome,
		menuIcon:   opts.MenuIcon,
		timeout:    opts.RequestTimeout,
		spectators: make(map[int32]map[int32]struct{}),
		lobby:      make(map[int32]struct{}),
	}
	g.handlers = g.handlerTable()

	if opts.ConcurrencyLimit > 0 {
		g.sem = make(chan struct{}, opts.ConcurrencyLimit)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = g.errorHandler
	e.Use(middleware.Recover())
	e.Use(g.requestMiddleware)

	e.GET("/", g.handleBanner)
	e.POST("/", g.handleBancho)

	g.echo = e
	return g
}

// Echo exposes the underlying echo instance for tests and the daemon.
func (g *Gateway) Echo() *echo.Echo {
	return g.echo
}

// PasswordCacheSweep returns the password cache recycler sweep.
func (g *Gateway) PasswordCacheSweep(ttl time.Duration) state.SweepFunc {
	return func(now time.Time) int {
		return g.pwcache.Sweep(now, ttl) + g.limiter.Sweep(now)
	}
}

// Run serves the gateway until ctx is cancelled, then drains.
func (g *Gateway) Run(ctx context.Context, addr, tlsCert, tlsKey string) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsCert != "" {
			err = g.echo.StartTLS(addr, tlsCert, tlsKey)
		} else {
			err = g.echo.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return g.echo.Shutdown(shutCtx)
	}
}

// -------------------------------------------------------------------------
// Middleware
// -------------------------------------------------------------------------

// requestMiddleware applies the concurrency cap, the request deadline,
// the request log line, and the state gauges.
func (g *Gateway) requestMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if g.sem != nil {
			select {
			case g.sem <- struct{}{}:
				defer func() { <-g.sem }()
			default:
				return echo.NewHTTPError(http.StatusServiceUnavailable, "server busy")
			}
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), g.timeout)
		defer cancel()
		c.SetRequest(c.Request().WithContext(ctx))

		start := time.Now()
		err := next(c)
		elapsed := time.Since(start)

		if err == nil && ctx.Err() != nil {
			err = echo.NewHTTPError(http.StatusRequestTimeout, "request timeout")
		}
		if err != nil {
			c.Error(err)
		}

		g.metrics.RequestSeconds.Observe(elapsed.Seconds())
		g.metrics.Sessions.Set(float64(g.store.Len()))
		g.metrics.NotifyMessages.Set(float64(g.notify.Len()))

		g.logger.Debug("http request",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Request().URL.Path),
			slog.Int("status", c.Response().Status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("remote", c.RealIP()),
		)
		return nil
	}
}

// errorHandler maps error kinds to statuses: timeouts to 408, overload
// to 503, everything else through echo's default behavior.
func (g *Gateway) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = echo.NewHTTPError(http.StatusRequestTimeout, "request timeout")
	case errors.Is(err, ErrServerBusy):
		err = echo.NewHTTPError(http.StatusServiceUnavailable, "server busy")
	}

	g.echo.DefaultHTTPErrorHandler(err, c)
}

// -------------------------------------------------------------------------
// Routes
// -------------------------------------------------------------------------

// handleBanner serves the human-readable build banner.
func (g *Gateway) handleBanner(c echo.Context) error {
	return c.String(http.StatusOK, appversion.Banner())
}

// handleBancho is the single bancho endpoint: login when no osu-token
// header is present, authenticated traffic otherwise.
func (g *Gateway) handleBancho(c echo.Context) error {
	if c.Request().UserAgent() != clientUserAgent {
		return echo.NewHTTPError(http.StatusBadRequest, "unexpected user agent")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	if token := c.Request().Header.Get(HeaderOsuToken); token != "" {
		return g.handleAuthenticated(c, token, body)
	}
	return g.handleLogin(c, body)
}

// handleLogin runs the login path.
func (g *Gateway) handleLogin(c echo.Context, body []byte) error {
	g.metrics.Requests.WithLabelValues(banchometrics.RequestKindLogin).Inc()

	clientIP := g.clientAddr(c)
	success, err := g.login(c.Request().Context(), body, clientIP, c.Request().Header.Get(HeaderOsuVersion))
	if err != nil {
		code, msg, label := g.loginFailure(err)
		g.metrics.Logins.WithLabelValues(label).Inc()
		g.logger.Warn("login failed",
			slog.String("ip", clientIP.String()),
			slog.String("error", err.Error()),
		)

		status := http.StatusOK
		if label == banchometrics.LoginResultError {
			status = http.StatusInternalServerError
		}

		resp := bancho.NewBuilder().
			Add(bancho.LoginReply(code)).
			Add(bancho.Notification(msg)).
			Build()

		c.Response().Header().Set(HeaderChoToken, tokenFailed)
		c.Response().Header().Set(HeaderChoProtocol, choProtocolValue)
		return c.Blob(status, echo.MIMEOctetStream, resp)
	}

	g.metrics.Logins.WithLabelValues(banchometrics.LoginResultOK).Inc()
	c.Response().Header().Set(HeaderChoToken, success.Token)
	c.Response().Header().Set(HeaderChoProtocol, choProtocolValue)
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, success.Packets)
}

// handleAuthenticated runs the heartbeat path. Any token or session
// miss yields a single bancho-restart packet with status 200 so the
// client re-logins cleanly instead of backing off on a 4xx.
func (g *Gateway) handleAuthenticated(c echo.Context, rawToken string, body []byte) error {
	ctx := c.Request().Context()
	g.metrics.Requests.WithLabelValues(banchometrics.RequestKindBancho).Inc()

	token, err := ParseClientToken(rawToken)
	if err != nil {
		return g.restart(c)
	}

	valid, err := g.signature.Verify(ctx, token.Payload(), token.Signature)
	if err != nil {
		g.logger.Error("signature verification unavailable",
			slog.String("error", err.Error()),
		)
		// Collaborator failure: answer 200 with a notification so the
		// client retries without entering a backoff loop.
		return c.Blob(http.StatusOK, echo.MIMEOctetStream,
			bancho.Notification("Server error. Please try again."))
	}
	if !valid {
		return g.restart(c)
	}

	sess, ok := g.store.Get(state.BySessionID(token.SessionID))
	if !ok || sess.UserID != token.UserID {
		return g.restart(c)
	}

	g.dispatch(ctx, sess, body)

	now := time.Now()
	sess.Touch(now)
	if clientIP := g.clientAddr(c); clientIP.IsValid() && clientIP != sess.Conn().IP {
		sess.SetConn(g.resolveConn(ctx, clientIP, sess.Conn().Country))
	}

	resp := bancho.BuilderFrom(sess.Queue.DequeueAll())

	if data, last, got := g.notify.Receive(sess.UserID, sess.Cursor(), 0); got {
		resp.Add(data)
		sess.AdvanceCursor(last)
	}

	if chatData, err := g.chat.DequeueChatPackets(ctx, sess.UserID); err == nil && len(chatData) > 0 {
		resp.Add(chatData)
	}

	return c.Blob(http.StatusOK, echo.MIMEOctetStream, resp.Build())
}

// restart answers with the single bancho-restart packet.
func (g *Gateway) restart(c echo.Context) error {
	g.metrics.Requests.WithLabelValues(banchometrics.RequestKindRestart).Inc()
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, bancho.Restart(0))
}

// clientAddr resolves the client address, preferring the reverse-proxy
// x-real-ip passthrough.
func (g *Gateway) clientAddr(c echo.Context) netip.Addr {
	if raw := c.Request().Header.Get(HeaderRealIP); raw != "" {
		if addr, err := netip.ParseAddr(raw); err == nil {
			return addr
		}
	}
	if addr, err := netip.ParseAddr(c.RealIP()); err == nil {
		return addr
	}
	// Fall back to the socket peer.
	host := c.Request().RemoteAddr
	if h, _, err := splitHostPort(host); err == nil {
		if addr, err := netip.ParseAddr(h); err == nil {
			return addr
		}
	}
	return netip.Addr{}
}

// splitHostPort is a tiny net.SplitHostPort wrapper tolerant of
// bare-host inputs.
func splitHostPort(hostport string) (string, int, error) {
	if ap, err := netip.ParseAddrPort(hostport); err == nil {
		return ap.Addr().String(), int(ap.Port()), nil
	}
	if _, err := netip.ParseAddr(hostport); err == nil {
		return hostport, 0, nil
	}
	return "", 0, strconv.ErrSyntax
}
