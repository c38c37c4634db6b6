package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/restock/internal/adapter/handler"
	"github.com/rl1809/restock/internal/adapter/storage"
	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/core/service"
	"github.com/rl1809/restock/internal/port"
)

const stressSeed = `
products:
  - {id: COLA, name: Cola, category: Drinks}
  - {id: CHIPS, name: Chips, category: Snacks}
  - {id: EMPTY, name: Empty}
routes:
  - {id: STRESS, name: Stress route, driver_id: driver-stress}
devices:
  - id: DEV-1
    name: Stress device
    cabinets:
      - index: 0
        slots:
          - {slot: 0, product: COLA, quantity: 3, capacity: 12, par: 10}
          - {slot: 1, product: CHIPS, quantity: 1, capacity: 6, par: 6}
          - {slot: 2, product: EMPTY, quantity: 0, capacity: 4, par: 4}
`

var stressCabinet = domain.CabinetRef{DeviceID: "DEV-1", CabinetIndex: 0}

type options struct {
	driver   string
	dsn      string
	requests int
	grpc     bool
}

// fulfiller is the slice of the engine the race exercises, either called directly or
// through the gRPC client.
type fulfiller interface {
	execute(ctx context.Context, cabinetOrderID string, items []domain.ItemDelivery, actorID string) error
	rollback(ctx context.Context, cabinetOrderID, actorID string) error
	alreadyExecuted(err error) bool
}

type direct struct{ engine *service.Engine }

func (d direct) execute(ctx context.Context, id string, items []domain.ItemDelivery, actorID string) error {
	_, err := d.engine.Execute(ctx, id, items, actorID)
	return err
}

func (d direct) rollback(ctx context.Context, id, actorID string) error {
	_, err := d.engine.Rollback(ctx, id, actorID)
	return err
}

func (direct) alreadyExecuted(err error) bool { return errors.Is(err, domain.ErrAlreadyExecuted) }

type remote struct{ client *handler.FulfillmentClient }

func (r remote) execute(ctx context.Context, id string, items []domain.ItemDelivery, actorID string) error {
	_, err := r.client.Execute(handler.WithActor(ctx, actorID), &handler.ExecuteRequest{CabinetOrderID: id, Items: items})
	return err
}

func (r remote) rollback(ctx context.Context, id, actorID string) error {
	_, err := r.client.Rollback(handler.WithActor(ctx, actorID), &handler.RollbackRequest{CabinetOrderID: id})
	return err
}

func (remote) alreadyExecuted(err error) bool { return status.Code(err) == codes.AlreadyExists }

func main() {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "stress_test",
		Short:         "Race concurrent executes against one cabinet order",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.driver, "driver", "sqlite3", "database driver (sqlite3|mysql)")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "database DSN (defaults to a temporary SQLite file)")
	cmd.Flags().IntVar(&opts.requests, "requests", 50, "concurrent execute calls")
	cmd.Flags().BoolVar(&opts.grpc, "grpc", false, "send executes through a local gRPC server instead of calling the engine")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	dsn := opts.dsn
	if dsn == "" {
		dir, err := os.MkdirTemp("", "restock-stress")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dsn = filepath.Join(dir, "stress.db")
	}

	store, err := storage.Open(ctx, opts.driver, dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	seed, err := storage.ParseSeed([]byte(stressSeed))
	if err != nil {
		return err
	}
	if err := store.ApplySeed(ctx, seed); err != nil {
		return err
	}

	engine := service.NewEngine(service.DefaultConfig(), service.Deps{
		Store:   store,
		Routes:  store,
		Devices: store,
		Logger:  logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel)),
	})

	created, err := engine.CreateOrder(ctx, service.CreateOrderRequest{
		RouteID:    "STRESS",
		Selections: []domain.CabinetRef{stressCabinet},
		CreatedBy:  "stress-dispatcher",
	})
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	coID := created.Order.Cabinets[0].ID

	var target fulfiller = direct{engine: engine}
	if opts.grpc {
		client, stop, err := startGRPC(engine, logger)
		if err != nil {
			return err
		}
		defer stop()
		target = remote{client: client}
	}

	before, err := quantities(ctx, store)
	if err != nil {
		return err
	}

	// Ask for more than fits so the clamp path runs too.
	items := []domain.ItemDelivery{
		{ProductID: "COLA", Quantity: 12},
		{ProductID: "CHIPS", Quantity: 5},
	}

	var (
		successCount, alreadyCount, otherCount atomic.Int32
		wg                                     sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < opts.requests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := target.execute(ctx, coID, items, fmt.Sprintf("driver-%d", n))
			switch {
			case err == nil:
				successCount.Add(1)
			case target.alreadyExecuted(err):
				alreadyCount.Add(1)
			default:
				otherCount.Add(1)
				logger.Warn("execute failed", zap.Int("caller", n), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	after, err := quantities(ctx, store)
	if err != nil {
		return err
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Transport:           %s\n", transportName(opts))
	fmt.Printf("Concurrent executes: %d\n", opts.requests)
	fmt.Printf("Successful:          %d\n", successCount.Load())
	fmt.Printf("Already executed:    %d\n", alreadyCount.Load())
	fmt.Printf("Other failures:      %d\n", otherCount.Load())
	fmt.Printf("Duration:            %v\n", elapsed)
	fmt.Printf("Slots before:        %v\n", before)
	fmt.Printf("Slots after execute: %v\n", after)
	fmt.Println("==========================================")

	failed := false
	if successCount.Load() == 1 && alreadyCount.Load() == int32(opts.requests-1) {
		fmt.Println("PASS: exactly one execute succeeded")
	} else {
		fmt.Printf("FAIL: expected 1 success and %d already-executed\n", opts.requests-1)
		failed = true
	}
	if after[0] == 12 && after[1] == 6 && after[2] == 0 {
		fmt.Println("PASS: slots filled to capacity once")
	} else {
		fmt.Printf("FAIL: unexpected slot quantities %v\n", after)
		failed = true
	}

	if err := target.rollback(ctx, coID, "driver-0"); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	restored, err := quantities(ctx, store)
	if err != nil {
		return err
	}
	fmt.Printf("Slots after rollback: %v\n", restored)
	if equalQuantities(before, restored) {
		fmt.Println("PASS: rollback restored every slot")
	} else {
		fmt.Println("FAIL: rollback did not restore the ledger")
		failed = true
	}

	if failed {
		return errors.New("stress test assertions failed")
	}
	return nil
}

// startGRPC serves the engine on a loopback port and dials it.
func startGRPC(engine *service.Engine, logger *zap.Logger) (*handler.FulfillmentClient, func(), error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	quiet := logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel)).Named("grpc")
	srv := grpc.NewServer(grpc.UnaryInterceptor(handler.LoggingInterceptor(quiet)))
	handler.RegisterFulfillmentServer(srv, handler.NewGRPCHandler(engine, quiet))
	go srv.Serve(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		srv.Stop()
		return nil, nil, err
	}
	stop := func() {
		conn.Close()
		srv.GracefulStop()
	}
	return handler.NewFulfillmentClient(conn), stop, nil
}

func transportName(opts *options) string {
	if opts.grpc {
		return "grpc"
	}
	return "direct"
}

func quantities(ctx context.Context, store port.Store) (map[int]int, error) {
	out := map[int]int{}
	err := store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		pg, err := tx.Planogram(ctx, stressCabinet, false)
		if err != nil {
			return err
		}
		if pg == nil {
			return fmt.Errorf("no planogram for %s", stressCabinet)
		}
		for _, s := range pg.Slots {
			out[s.Index] = s.Quantity
		}
		return nil
	})
	return out, err
}

func equalQuantities(a, b map[int]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
