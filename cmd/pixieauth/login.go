package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pixieauth/core"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

type loginOptions struct {
	provider          string
	method            string
	idToken           string
	authorizationCode string
	noBrowser         bool
}

var loginOpts loginOptions

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store an API key",
	Long: `Sign in with GitHub, Google or Apple.

With --method auto the best flow is picked: native sign-in when an identity token
is supplied, the browser redirect when the redirect URI points at this machine,
otherwise the device flow, falling back to pasting the redirect URL by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return runLogin(ctx, a, cmd.OutOrStdout(), os.Stdin, loginOpts)
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginOpts.provider, "provider", "p", "github", "Identity provider: github, google, apple")
	loginCmd.Flags().StringVarP(&loginOpts.method, "method", "m", "auto", "Flow: auto, redirect, device, native")
	loginCmd.Flags().StringVar(&loginOpts.idToken, "id-token", "", "Provider identity token for native sign-in")
	loginCmd.Flags().StringVar(&loginOpts.authorizationCode, "authorization-code", "", "Apple authorization code sent along with --id-token")
	loginCmd.Flags().BoolVar(&loginOpts.noBrowser, "no-browser", false, "Print URLs instead of opening a browser")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(ctx context.Context, a *app, w io.Writer, stdin *os.File, opts loginOptions) error {
	provider, err := core.ParseProvider(opts.provider)
	if err != nil {
		return fmt.Errorf("%w: %s", err, opts.provider)
	}
	method, err := core.ParseMethod(opts.method)
	if err != nil {
		return err
	}

	loopback := loopbackAddr(a.config.Core.RedirectURI)
	caps := core.Capabilities{
		ReceivesCallbacks: loopback != "",
		Native:            nativeSignIns(opts.idToken, opts.authorizationCode, provider),
	}
	var browser core.Browser = core.SystemBrowser{}
	if opts.noBrowser {
		browser = core.NoBrowser{}
	}

	controller, err := a.newController(caps, browser)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var httpServer *http.Server
	if loopback != "" {
		ln, err := net.Listen("tcp", loopback)
		if err != nil {
			return fmt.Errorf("failed to listen for the redirect on %s: %w", loopback, err)
		}
		server := core.NewServer(controller, &a.config.Core, a.logger)
		httpServer = &http.Server{Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
		a.logger.Debug("callback server listening", "addr", ln.Addr().String(), "path", server.CallbackPath())

		g.Go(func() error {
			if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	id, err := controller.AuthenticateWith(gctx, provider, method)
	if err != nil {
		shutdown(httpServer)
		return err
	}

	g.Go(func() error {
		defer shutdown(httpServer)
		return awaitOutcome(gctx, controller, id, w, stdin, loopback != "")
	})

	err = g.Wait()
	controller.Wait()
	return err
}

// awaitOutcome prints prompts for attempt id until it reaches a terminal outcome
func awaitOutcome(ctx context.Context, controller *core.AuthSessionController, id core.AttemptID, w io.Writer, stdin *os.File, loopback bool) error {
	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			controller.Cancel()

		case out := <-controller.Outcomes():
			if out.AttemptID != id {
				continue
			}

			switch out.Kind {
			case core.OutcomePending:
				printPrompt(w, out)
				if out.Method == core.MethodRedirect && !loopback {
					go readCallback(ctx, controller, w, stdin)
				}

			case core.OutcomeSuccess:
				fmt.Fprintf(w, "Signed in with %s as %s\n", out.Credential.Provider, out.Credential.UserID)
				return nil

			case core.OutcomeCancelled:
				return core.ErrCancelled

			default:
				return fmt.Errorf("authentication failed: %s", out.Message)
			}
		}
	}
}

func printPrompt(w io.Writer, out core.AuthOutcome) {
	p := out.Prompt
	if p == nil {
		return
	}

	if p.Manual || out.Method == core.MethodDevice {
		fmt.Fprintf(w, "Open this URL in your browser:\n\n  %s\n\n", p.URL)
	} else {
		fmt.Fprintf(w, "Your browser has been opened to:\n\n  %s\n\n", p.URL)
	}
	if p.UserCode != "" {
		fmt.Fprintf(w, "and enter the code: %s\n\n", p.UserCode)
	}
	if out.Method == core.MethodDevice {
		fmt.Fprintln(w, "Waiting for approval...")
	}
}

// readCallback takes the redirect URL from the terminal when no loopback server
// can receive it.
func readCallback(ctx context.Context, controller *core.AuthSessionController, w io.Writer, stdin *os.File) {
	if !term.IsTerminal(int(stdin.Fd())) {
		fmt.Fprintln(w, "stdin is not a terminal; configure an http://127.0.0.1 redirect_uri or use --method device")
		controller.Cancel()
		return
	}

	fmt.Fprint(w, "Paste the URL you were redirected to: ")
	deliverCallback(ctx, controller, stdin)
}

// deliverCallback reads one callback URL from r and hands it to the controller.
// The read itself cannot be interrupted, so once ctx is done whatever arrives is
// discarded.
func deliverCallback(ctx context.Context, controller *core.AuthSessionController, r io.Reader) {
	lines := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && line == "" {
			close(lines)
			return
		}
		lines <- line
	}()

	select {
	case <-ctx.Done():
	case line, ok := <-lines:
		if ctx.Err() != nil {
			return
		}
		if !ok {
			controller.Cancel()
			return
		}
		controller.HandleCallback(ctx, strings.TrimSpace(line))
	}
}

// loopbackAddr returns host:port when redirectURI is an http URL on this machine
func loopbackAddr(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Scheme != "http" {
		return ""
	}
	switch u.Hostname() {
	case "127.0.0.1", "localhost", "::1":
	default:
		return ""
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "80")
	}
	return u.Host
}

func shutdown(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}
