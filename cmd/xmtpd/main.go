// Command xmtpd is the daemon entrypoint: it wires internal/config,
// internal/identitystore, internal/grouprepo, internal/transport,
// internal/intent, internal/stream, and internal/api together, the way the
// teacher's cmd/ardents-node/main.go dispatches flag-parsed subcommands
// against its nodeagent/api.Server pair.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xmtp-core/libxmtp-go/internal/api"
	"github.com/xmtp-core/libxmtp-go/internal/config"
	"github.com/xmtp-core/libxmtp-go/internal/grouprepo"
	"github.com/xmtp-core/libxmtp-go/internal/identitystore"
	"github.com/xmtp-core/libxmtp-go/internal/ids"
	"github.com/xmtp-core/libxmtp-go/internal/intent"
	"github.com/xmtp-core/libxmtp-go/internal/kv"
	"github.com/xmtp-core/libxmtp-go/internal/mls"
	"github.com/xmtp-core/libxmtp-go/internal/mls/welcomewrap"
	"github.com/xmtp-core/libxmtp-go/internal/platform/privacylog"
	"github.com/xmtp-core/libxmtp-go/internal/platform/ratelimiter"
	"github.com/xmtp-core/libxmtp-go/internal/transport"
	mocktransport "github.com/xmtp-core/libxmtp-go/internal/transport/mock"
	"github.com/xmtp-core/libxmtp-go/internal/transport/wakutransport"
	"github.com/xmtp-core/libxmtp-go/internal/wire"
	"github.com/xmtp-core/libxmtp-go/pkg/xmtptypes"
)

const (
	exitOK           = 0
	exitInvalidInput = 10
	exitRuntimeError = 20
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "run":
		runDaemon(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dataDir := fs.String("data-dir", "./data", "installation data directory")
	identifier := fs.String("identifier", "", "initial account identifier (e.g. an address)")
	password := fs.String("password", "", "passphrase used to encrypt the seed envelope")
	if err := fs.Parse(args); err != nil {
		exitWithError(err, exitInvalidInput)
	}
	if strings.TrimSpace(*identifier) == "" || strings.TrimSpace(*password) == "" {
		exitWithError(fmt.Errorf("xmtpd: --identifier and --password are required"), exitInvalidInput)
	}

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		exitWithError(err, exitRuntimeError)
	}

	store := identitystore.NewStore()
	inboxID, mnemonic, err := store.CreateInbox([]byte(*identifier), *password)
	if err != nil {
		exitWithError(err, exitInvalidInput)
	}

	if err := printJSON(map[string]any{
		"inbox_id":        inboxID,
		"installation_id": store.InstallationID(),
		"mnemonic":        mnemonic,
	}); err != nil {
		exitWithError(err, exitRuntimeError)
	}
	os.Exit(exitOK)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "daemon config path")
	if err := fs.Parse(args); err != nil {
		exitWithError(err, exitInvalidInput)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		exitWithError(err, exitRuntimeError)
	}
	if err := printJSON(map[string]any{
		"transport":    cfg.Network.Transport,
		"port":         cfg.Network.Port,
		"data_dir":     cfg.Store.DataDir,
		"enable_relay": cfg.Network.EnableRelay,
		"enable_store": cfg.Network.EnableStore,
	}); err != nil {
		exitWithError(err, exitRuntimeError)
	}
	os.Exit(exitOK)
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "daemon config path")
	metricsAddr := fs.String("metrics-addr", "127.0.0.1:9090", "prometheus /metrics listen address")
	identifier := fs.String("identifier", "", "account identifier bound to this installation's inbox (e.g. an address)")
	password := fs.String("password", "", "passphrase used to encrypt the seed envelope")
	if err := fs.Parse(args); err != nil {
		exitWithError(err, exitInvalidInput)
	}
	if strings.TrimSpace(*identifier) == "" || strings.TrimSpace(*password) == "" {
		exitWithError(fmt.Errorf("xmtpd: --identifier and --password are required"), exitInvalidInput)
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		exitWithError(err, exitRuntimeError)
	}
	logger.Info("config.loaded", "transport", cfg.Network.Transport, "port", cfg.Network.Port)

	identity := identitystore.NewStore()
	inboxID, _, err := identity.CreateInbox([]byte(*identifier), *password)
	if err != nil {
		exitWithError(err, exitRuntimeError)
	}
	logger.Info("identity.bound", "inbox_id", inboxID, "installation_id", identity.InstallationID())

	t, stopTransport, err := buildTransport(cfg)
	if err != nil {
		exitWithError(err, exitRuntimeError)
	}
	defer stopTransport()

	repo := grouprepo.New(kv.New())
	limiter := ratelimiter.New(cfg.RateLimit.PublishRPS, cfg.RateLimit.PublishBurst, 0)
	wrapper, err := welcomewrap.Select(wire.WrapperCurve25519)
	if err != nil {
		exitWithError(err, exitRuntimeError)
	}
	stager := mlsStager{
		repo:                repo,
		transport:           t,
		wrapper:             wrapper,
		actorInboxID:        inboxID,
		actorInstallationID: identity.InstallationID(),
	}
	publisher := intent.New(intent.NewMemStore(), repo, stager, publishAdapter{t}, limiter)
	publisher.LogInfo = func(message string, args ...any) {
		logger.Info(message, privacylog.SanitizeArgs(args...)...)
	}
	defer publisher.Stop()

	facade := api.New(t, repo, publisher)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := facade.Stats().Snapshot(0)
		_ = json.NewEncoder(w).Encode(snap)
	})

	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		logger.Info("metrics.listening", "addr", *metricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics.serve_failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutdown.signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), transport.CallTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildTransport selects the mock or go-waku-backed transport.Transport per
// cfg.Network.Transport, matching the teacher's waku.Config.Transport switch
// (waku.TransportMock/waku.TransportGoWaku).
func buildTransport(cfg config.Config) (transport.Transport, func(), error) {
	switch cfg.Network.Transport {
	case "go-waku":
		node := wakutransport.New(wakutransport.Config{
			Port:             cfg.Network.Port,
			EnableRelay:      cfg.Network.EnableRelay,
			EnableStore:      cfg.Network.EnableStore,
			BootstrapNodes:   cfg.Network.BootstrapNodes,
			StoreQueryFanout: cfg.Network.StoreQueryFanout,
		})
		if err := node.Start(context.Background()); err != nil {
			return nil, func() {}, fmt.Errorf("xmtpd: start go-waku transport: %w", err)
		}
		return node, node.Stop, nil
	case "mock", "":
		t := mocktransport.New()
		return t, func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("xmtpd: unknown transport %q", cfg.Network.Transport)
	}
}

// publishAdapter narrows a transport.Transport to the single-envelope
// publish call internal/intent.Publisher depends on.
type publishAdapter struct {
	t transport.Transport
}

func (p publishAdapter) PublishIntent(ctx context.Context, groupID ids.GroupID, payload []byte) error {
	return p.t.SendGroupMessages(ctx, []xmtptypes.Envelope{{GroupID: string(groupID), Payload: payload}})
}

// mlsStager satisfies intent.Stager against the real internal/mls
// commit-staging path: load the group, decode the intent's payload, resolve
// the mls.Action its Kind stages, and seal+deliver any welcome its commit
// produces before returning the bytes intent.Publisher goes on to publish.
type mlsStager struct {
	repo                *grouprepo.Repo
	transport           transport.Transport
	wrapper             mls.WelcomeWrapper
	actorInboxID        ids.InboxID
	actorInstallationID ids.InstallationID
}

func (s mlsStager) StageCommit(ctx context.Context, groupID ids.GroupID, in *intent.Intent) ([]byte, string, error) {
	g, err := s.repo.LoadGroup(groupID)
	if err != nil {
		return nil, "", fmt.Errorf("xmtpd: load group %s: %w", groupID, err)
	}

	payload, err := mls.UnmarshalIntentPayload(in.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("xmtpd: decode intent %s payload: %w", in.ID, err)
	}

	action, err := actionForIntentKind(in.Kind, payload)
	if err != nil {
		return nil, "", err
	}

	staged, welcomes, postCommitAction, err := g.StageCommit(mls.StageRequest{
		Action:              action,
		ActorInboxID:        s.actorInboxID,
		ActorInstallationID: s.actorInstallationID,
		Payload:             payload,
	})
	if err != nil {
		return nil, "", err
	}

	if err := s.deliverWelcomes(ctx, welcomes, payload.AddedInstallations); err != nil {
		return nil, "", err
	}
	return staged, postCommitAction, nil
}

// deliverWelcomes seals one welcome per newly-added installation under that
// installation's advertised HPKE public key and sends the batch over the
// transport, per spec §4.2's "welcome for each non-creator installation".
func (s mlsStager) deliverWelcomes(ctx context.Context, welcomes []mls.WelcomePayload, recipients []mls.InstallationLeaf) error {
	if len(welcomes) == 0 {
		return nil
	}
	if len(welcomes) != len(recipients) {
		return fmt.Errorf("xmtpd: got %d staged welcomes for %d added installations", len(welcomes), len(recipients))
	}

	envelopes := make([]xmtptypes.Envelope, 0, len(welcomes))
	for i, w := range welcomes {
		sealed, err := mls.SealWelcome(s.wrapper, recipients[i].HPKEPublicKey, w)
		if err != nil {
			return fmt.Errorf("xmtpd: seal welcome for installation %s: %w", recipients[i].InstallationID, err)
		}
		envelopes = append(envelopes, xmtptypes.Envelope{
			GroupID:    string(w.GroupID),
			SenderHint: string(recipients[i].InstallationID),
			Payload:    sealed,
			IsWelcome:  true,
		})
	}
	return s.transport.SendWelcomeMessages(ctx, envelopes)
}

// actionForIntentKind resolves the mls.Action a staged commit performs from
// an intent's Kind and decoded payload. readd_installations stages the same
// add/remove-member action as update_group_membership. key_update and
// update_permission have no commit action in internal/mls (its
// PermissionsPolicy gates only the five actions mls.Action enumerates) and
// return an error.
func actionForIntentKind(kind intent.Kind, payload mls.IntentPayload) (mls.Action, error) {
	switch kind {
	case intent.KindSendMessage:
		return mls.ActionSendMessage, nil
	case intent.KindMetadataUpdate:
		return mls.ActionUpdateMetadata, nil
	case intent.KindUpdateAdminList:
		return mls.ActionUpdateAdmins, nil
	case intent.KindUpdateGroupMembership, intent.KindReaddInstallations:
		if len(payload.RemovedInstallations) > 0 && len(payload.AddedInstallations) == 0 {
			return mls.ActionRemoveMember, nil
		}
		return mls.ActionAddMember, nil
	default:
		return "", fmt.Errorf("xmtpd: intent kind %q has no staged-commit action yet", kind)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Fprintln(os.Stdout, "xmtpd <command> [flags]")
	fmt.Fprintln(os.Stdout, "commands:")
	fmt.Fprintln(os.Stdout, "  init    --identifier <id> --password <pass> [--data-dir <path>]")
	fmt.Fprintln(os.Stdout, "  status  [--config <path>]")
	fmt.Fprintln(os.Stdout, "  run     --identifier <id> --password <pass> [--config <path>] [--metrics-addr host:port]")
}

func exitWithError(err error, code int) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(code)
}
