package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/msfcore/internal/client"
	"github.com/danmuck/msfcore/internal/config"
	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const qrPollInterval = 2 * time.Second

func main() {
	path := flag.String("config", "msf.toml", "client config path")
	initUin := flag.Uint("init", 0, "write a starter config for this uin and exit")
	force := flag.Bool("force", false, "overwrite an existing config with -init")
	metrics := flag.String("metrics", "", "serve prometheus metrics on this address")
	flag.Parse()

	logs.ConfigureRuntime()

	if *initUin != 0 {
		if err := config.WriteTemplate(*path, uint32(*initUin), *force); err != nil {
			fmt.Fprintf(os.Stderr, "msfctl: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *path)
		return
	}

	if err := run(*path, *metrics); err != nil {
		fmt.Fprintf(os.Stderr, "msfctl: %v\n", err)
		os.Exit(1)
	}
}

func run(path, metricsAddr string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tokens, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer tokens.Close()

	ccfg := cfg.Client()
	ccfg.Tokens = tokens
	c, err := client.New(ccfg)
	if err != nil {
		return err
	}
	defer c.Terminate()

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logs.Errf("msfctl.metrics serve failed addr=%s err=%v", metricsAddr, err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	qrPath := filepath.Join(cfg.DataDir, "qrcode.png")
	go printEvents(c.Events(), qrPath)

	if err := login(ctx, c, tokens); err != nil {
		return err
	}
	<-ctx.Done()

	logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Logout(logoutCtx)
}

// login prefers a stored token and falls back to a QR code scan.
func login(ctx context.Context, c *client.Client, tokens *store.TokenStore) error {
	token, err := tokens.LoadToken(c.Uin())
	switch {
	case err == nil:
		err = c.TokenLogin(ctx, token)
		if err == nil {
			return nil
		}
		logs.Warnf("msfctl.login token rejected, falling back to qrcode uin=%d err=%v", c.Uin(), err)
		if errors.Is(err, client.ErrTokenExpired) {
			_ = tokens.DeleteToken(c.Uin())
		}
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return verify(ctx, c, qrcodeLogin(ctx, c))
}

func qrcodeLogin(ctx context.Context, c *client.Client) error {
	if _, err := c.FetchQrcode(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(qrPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := c.QrcodeLogin(ctx)
		var qerr *client.QrcodeError
		if !errors.As(err, &qerr) {
			return err
		}
		switch qerr.Result {
		case client.QrcodeWaitingForScan, client.QrcodeWaitingForConfirm:
			continue
		case client.QrcodeTimeout:
			if _, err := c.FetchQrcode(ctx); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

// verify resolves verification prompts on stdin until the login settles.
func verify(ctx context.Context, c *client.Client, err error) error {
	in := bufio.NewReader(os.Stdin)
	for {
		var verr *client.VerificationError
		if !errors.As(err, &verr) {
			return err
		}
		switch verr.Kind {
		case client.VerifySlider:
			ticket, rerr := prompt(in, "slider ticket: ")
			if rerr != nil {
				return rerr
			}
			err = c.SubmitSlider(ctx, ticket)
		case client.VerifyDevice:
			if verr.Phone != "" {
				if err := c.SendSmsCode(ctx); err != nil {
					return err
				}
				code, rerr := prompt(in, fmt.Sprintf("sms code sent to %s: ", verr.Phone))
				if rerr != nil {
					return rerr
				}
				err = c.SubmitSmsCode(ctx, code)
				continue
			}
			if _, rerr := prompt(in, "verify at "+verr.URL+" then press enter: "); rerr != nil {
				return rerr
			}
			err = c.Continue(ctx)
		case client.VerifySMS:
			code, rerr := prompt(in, "sms code: ")
			if rerr != nil {
				return rerr
			}
			err = c.SubmitSmsCode(ctx, code)
		default:
			return err
		}
	}
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func printEvents(events <-chan client.Event, qrPath string) {
	for ev := range events {
		if qr, ok := ev.(client.QrcodeEvent); ok {
			if err := os.WriteFile(qrPath, qr.Image, 0o600); err != nil {
				logs.Errf("msfctl.qrcode write failed path=%s err=%v", qrPath, err)
			}
		}
		if line := describe(ev, qrPath); line != "" {
			fmt.Println(line)
		}
	}
}

func describe(ev client.Event, qrPath string) string {
	switch ev := ev.(type) {
	case client.QrcodeEvent:
		return fmt.Sprintf("scan the qrcode saved at %s", qrPath)
	case client.QrcodeErrorEvent:
		return "qrcode: " + ev.Message
	case client.SliderEvent:
		return "slider captcha: " + ev.URL
	case client.DeviceEvent:
		return fmt.Sprintf("device lock: url=%s phone=%s", ev.URL, ev.Phone)
	case client.OnlineEvent:
		return fmt.Sprintf("online: uin=%d nickname=%s", ev.Uin, ev.Profile.Nickname)
	case client.LoginErrorEvent:
		return fmt.Sprintf("login error %d: %s", ev.Code, ev.Message)
	case client.TokenInvalidEvent:
		return fmt.Sprintf("token invalid: %v", ev.Err)
	case client.NetworkErrorEvent:
		return fmt.Sprintf("network error %d: %s", ev.Code, ev.Message)
	case client.KickoffEvent:
		return "kicked off: " + ev.Reason
	case client.DisconnectEvent:
		if ev.Reconnecting {
			return "disconnected, reconnecting"
		}
		return "disconnected"
	case client.PushEvent:
		return fmt.Sprintf("push: cmd=%s seq=%d bytes=%d", ev.Cmd, ev.Seq, len(ev.Payload))
	}
	return ""
}
