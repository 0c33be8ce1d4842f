package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"payerbook.org/internal/client"
	"payerbook.org/internal/entity"
	"payerbook.org/internal/ids"
)

func main() {
	baseURL := os.Getenv("PAYERBOOK_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	grpcAddr := os.Getenv("PAYERBOOK_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = "localhost:9090"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	checkHealth(ctx, grpcAddr)

	api, err := client.New(baseURL)
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	sess, err := client.NewSession(nil)
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	ctx = client.WithSession(ctx, sess)

	email := "smoke-" + strings.ToLower(ids.New()) + "@example.com"
	const password = "smoke-password"
	if err := api.Signup(ctx, email, password, password); err != nil {
		log.Fatalf("signup: %v", err)
	}

	tin := fmt.Sprintf("%02d-%07d", rand.Intn(100), rand.Intn(10_000_000))
	in := entity.Input{
		Name:   "Smoke Payer " + tin,
		Street: "1 Main St",
		City:   "Boise",
		State:  "ID",
		Zip:    "83702",
		TIN:    tin,
	}
	if err := api.AddEntity(ctx, in); err != nil {
		log.Fatalf("add entity: %v", err)
	}
	if err := api.AddEntity(ctx, in); client.StatusOf(err) != 400 {
		log.Fatalf("duplicate entity: expected 400, got %v", err)
	}

	list, err := api.Dashboard(ctx)
	if err != nil {
		log.Fatalf("dashboard: %v", err)
	}
	if len(list) != 1 || list[0].TIN != tin {
		log.Fatalf("unexpected dashboard: %+v", list)
	}

	if err := api.Refresh(ctx); err != nil {
		log.Fatalf("refresh: %v", err)
	}
	got, err := api.Entity(ctx, list[0].ID)
	if err != nil {
		log.Fatalf("entity: %v", err)
	}
	if got.Name != in.Name {
		log.Fatalf("entity name mismatch: %q", got.Name)
	}

	if err := api.Logout(ctx); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if err := api.Refresh(ctx); err == nil {
		log.Fatalf("refresh after logout should fail")
	}

	fmt.Printf("payerbook smoke test passed: user=%s entity=%d\n", email, got.ID)
}

func checkHealth(ctx context.Context, addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial grpc at %s: %v", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("grpc health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatalf("grpc health: %s", resp.GetStatus())
	}
}
