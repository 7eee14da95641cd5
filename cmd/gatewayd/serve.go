package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cagent-gateway/tenantgw/internal/backup"
	"github.com/cagent-gateway/tenantgw/internal/gateway"
	"github.com/cagent-gateway/tenantgw/internal/httpapi"
	"github.com/cagent-gateway/tenantgw/internal/metrics"
	"github.com/cagent-gateway/tenantgw/internal/objectstore"
	"github.com/cagent-gateway/tenantgw/internal/pairing"
	"github.com/cagent-gateway/tenantgw/internal/ptymgr"
	"github.com/cagent-gateway/tenantgw/internal/quota"
	"github.com/cagent-gateway/tenantgw/internal/scheduler"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
	"github.com/cagent-gateway/tenantgw/internal/tenantconfig"
)

type serveFlags struct {
	listenAddr        string
	stateDir          string
	adminToken        string
	controlPlaneToken string
	pairingSecret     string
	backupBucket      string
	backupPrefix      string
	schedulingEnabled bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE:  flags.run,
	}

	cmd.Flags().StringVarP(&flags.listenAddr, "listen", "l", ":8443", "Address to listen on")
	cmd.Flags().StringVar(&flags.stateDir, "state-dir", defaultStateDir(), "Root directory for tenant state and the registry")
	cmd.Flags().StringVar(&flags.adminToken, "admin-token", os.Getenv("GATEWAYD_ADMIN_TOKEN"), "Bearer token granting the admin scope over WebSocket")
	cmd.Flags().StringVar(&flags.controlPlaneToken, "control-plane-token", os.Getenv("GATEWAYD_CONTROL_PLANE_TOKEN"), "Shared secret for the internal control-plane HTTP surface")
	cmd.Flags().StringVar(&flags.pairingSecret, "pairing-secret", os.Getenv("GATEWAYD_PAIRING_SECRET"), "HMAC secret for device/node pairing tokens")
	cmd.Flags().StringVar(&flags.backupBucket, "backup-bucket", os.Getenv("GATEWAYD_BACKUP_BUCKET"), "S3 bucket backing tenant backups")
	cmd.Flags().StringVar(&flags.backupPrefix, "backup-prefix", "tenant-backups", "Key prefix under the backup bucket")
	cmd.Flags().BoolVar(&flags.schedulingEnabled, "scheduling-enabled", true, "Start tenant cron schedulers immediately rather than in a stopped state")

	return cmd
}

func defaultStateDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "./gatewayd-state"
	}
	return dir + "/.gatewayd"
}

func (f *serveFlags) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	tenants, err := tenant.NewRegistry(f.stateDir)
	if err != nil {
		return fmt.Errorf("creating tenant registry: %w", err)
	}
	ledger := quota.NewLedger(f.stateDir)
	ring := metrics.NewRing(2048)
	cfgStore := tenantconfig.NewStore()

	var pairingIssuer *pairing.Issuer
	if f.pairingSecret != "" {
		pairingIssuer = pairing.NewIssuer([]byte(f.pairingSecret))
	}

	// The scheduler needs a Broadcaster at construction time but the
	// gateway (the only real Broadcaster) needs the scheduler first, so
	// route broadcasts through an indirection set once the gateway exists.
	broadcaster := &lazyBroadcaster{}
	sched := scheduler.New(f.stateDir, runCronJob, broadcaster, f.schedulingEnabled)

	gw := gateway.New(
		gateway.Config{AdminToken: f.adminToken, PairingIssuer: pairingIssuer},
		tenants,
		ledger,
		sched,
		ptymgr.NewLocalSpawner(),
		cfgStore,
	)
	broadcaster.gw = gw

	if err := sched.StartAll(tenants, sched.LoadJobs); err != nil {
		return fmt.Errorf("starting tenant cron schedulers: %w", err)
	}

	var backups *backup.Orchestrator
	if f.backupBucket != "" {
		store, err := objectstore.New(ctx, f.backupBucket)
		if err != nil {
			return fmt.Errorf("creating object store: %w", err)
		}
		backups = backup.New(f.stateDir, store, f.backupPrefix)
	}

	api := httpapi.New(tenants, ledger, nil, backups, ring, f.controlPlaneToken)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleUpgrade)
	mux.Handle("/", api.Echo())

	ln, err := net.Listen("tcp", f.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", f.listenAddr, err)
	}

	slog.Info("gatewayd listening", "addr", ln.Addr().String())
	fmt.Fprintln(cmd.OutOrStdout(), "Listening on", ln.Addr().String())

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		sched.StopAll()
		_ = srv.Close()
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runCronJob is the scheduler.RunFunc used by every tenant scheduler: a
// placeholder for the out-of-scope agent runner, invoked by session key.
func runCronJob(tenantID string, job scheduler.Job, sessionKey string) error {
	slog.Info("cron job fired", "tenantId", tenantID, "jobId", job.ID, "agentId", job.AgentID, "sessionKey", sessionKey)
	return nil
}

// lazyBroadcaster defers to a *gateway.Gateway set after construction,
// breaking the scheduler/gateway construction cycle.
type lazyBroadcaster struct {
	gw *gateway.Gateway
}

func (b *lazyBroadcaster) Broadcast(event string, payload any, dropIfSlow bool) {
	if b.gw != nil {
		b.gw.Broadcast(event, payload, dropIfSlow)
	}
}
