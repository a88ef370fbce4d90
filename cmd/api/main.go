package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicore.org/internal/authz"
	"clinicore.org/internal/httpapi"
	"clinicore.org/internal/obs"
	"clinicore.org/internal/session"
	"clinicore.org/internal/store/memory"
	"clinicore.org/internal/store/pg"
	"clinicore.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("CLINICORE_JWT_SECRET")
	if secret == "" {
		log.Fatal("CLINICORE_JWT_SECRET is required")
	}
	issuer, err := token.NewJWTIssuer(secret)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	// Store wiring: PostgreSQL when a DSN is configured, in-memory otherwise
	// (local development and smoke tests).
	var (
		users       session.UserStore
		tokens      session.RefreshTokenStore
		authzUsers  authz.UserStore
		adminUsers  authz.UserDirectory
		grants      authz.GrantStore
		memberships authz.MembershipStore
		orgs        authz.OrganizationStore
		probe       httpapi.ReadyProbe
		closeStore  = func() {}
	)
	if dsn := os.Getenv("CLINICORE_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		users = store.Users()
		tokens = store.Tokens()
		authzUsers = store.Users()
		adminUsers = store.Users()
		grants = store.Grants()
		memberships = store.Memberships()
		orgs = store.Organizations()
		probe = httpapi.ReadyProbe{DB: store.DB()}
		closeStore = func() { _ = store.Close() }
	} else {
		log.Print("CLINICORE_PG_DSN not set, using in-memory stores")
		mu := memory.NewUserStore()
		users = mu
		tokens = memory.NewTokenStore()
		authzUsers = mu
		adminUsers = mu
		grants = memory.NewGrantStore()
		memberships = memory.NewMembershipStore()
		orgs = memory.NewOrganizationStore()
	}
	defer closeStore()

	sessions, err := session.NewService(users, tokens, issuer)
	if err != nil {
		log.Fatalf("session service: %v", err)
	}
	engine, err := authz.NewEngine(authzUsers, grants, memberships)
	if err != nil {
		log.Fatalf("authz engine: %v", err)
	}
	admin, err := authz.NewAdminService(adminUsers, grants, memberships, orgs)
	if err != nil {
		log.Fatalf("admin service: %v", err)
	}

	api := httpapi.New(sessions, engine, admin, probe, version)
	handler := httpapi.SecurityHeaders(
		httpapi.RateLimit(
			httpapi.MaxBodyBytes(httpapi.Logging(api.Handler()), 1<<20),
			20, 10,
		),
	)

	addr := os.Getenv("CLINICORE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// gRPC health endpoint for orchestrators that probe over gRPC.
	if grpcAddr := os.Getenv("CLINICORE_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go func() {
			if err := httpapi.NewGRPCHealthServer(probe).Serve(ctx, lis); err != nil {
				log.Printf("grpc server: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", grpcAddr)
	}

	log.Printf("Starting clinicore-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
