package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"relay/api/grpcserver"
	"relay/domain/channelstate"
	"relay/infra/kafka"
	"relay/infra/memory"
	"relay/infra/store"
	"relay/infra/wal"
	"relay/jobs/broadcaster"
	"relay/service"
)

type options struct {
	brokers          []string
	topicIn          string
	topicOut         string
	topicResync      string
	group            string
	dataDir          string
	listen           string
	gapTimeout       time.Duration
	shortRecheck     time.Duration
	snapshotInterval time.Duration
	recentUpdates    int
}

func main() {
	opts := options{}

	root := &cobra.Command{
		Use:   "relayd",
		Short: "Channel update gateway with gap detection and reordering",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	f := root.Flags()
	f.StringSliceVar(&opts.brokers, "brokers", []string{"localhost:9092"}, "Kafka bootstrap brokers")
	f.StringVar(&opts.topicIn, "topic-in", "updates.in", "inbound update topic")
	f.StringVar(&opts.topicOut, "topic-out", "updates.out", "outbound applied-update topic")
	f.StringVar(&opts.topicResync, "topic-resync", "updates.resync", "resync request topic")
	f.StringVar(&opts.group, "group", "relayd", "consumer group id")
	f.StringVar(&opts.dataDir, "data-dir", "./data", "journal, store and snapshot root")
	f.StringVar(&opts.listen, "listen", ":50051", "gRPC listen address")
	f.DurationVar(&opts.gapTimeout, "gap-timeout", time.Second, "wait before escalating an open gap to a resync")
	f.DurationVar(&opts.shortRecheck, "short-recheck", time.Millisecond, "re-check delay when a duplicate raced the stream")
	f.DurationVar(&opts.snapshotInterval, "snapshot-interval", time.Minute, "registry snapshot period")
	f.IntVar(&opts.recentUpdates, "recent-updates", 16, "recent updates kept per channel for status")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts options) error {
	// ---------------- Journal ----------------

	journal, err := wal.Open(wal.Config{
		Dir:         filepath.Join(opts.dataDir, "journal"),
		SegmentSize: 2 * 1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("journal init: %w", err)
	}
	defer journal.Close()

	// ---------------- Durable store ----------------

	durable, err := store.Open(filepath.Join(opts.dataDir, "db"))
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	defer durable.Close()

	// ---------------- Memory ----------------

	pool := memory.NewPool(func() *channelstate.Update {
		return &channelstate.Update{}
	})
	ring := memory.NewRetireRing(1 << 16)
	epoch := &memory.Epoch{}

	// ---------------- Domain ----------------

	registry := channelstate.NewRegistry(opts.recentUpdates, pool, ring)

	// ---------------- Resync producer ----------------

	resyncProducer := kafka.NewProducer(opts.brokers, opts.topicResync)
	defer resyncProducer.Close()

	// ---------------- Service ----------------

	svc := service.New(
		service.Config{
			ShortRecheck: opts.shortRecheck,
			GapTimeout:   opts.gapTimeout,
		},
		registry,
		journal,
		durable,
		&service.KafkaResyncer{Producer: resyncProducer},
		epoch,
		pool,
		ring,
	)

	// ---------------- Restore ----------------

	snapDir := filepath.Join(opts.dataDir, "snapshots")
	if err := svc.Restore(snapDir, filepath.Join(opts.dataDir, "journal")); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go svc.Run(ctx)

	// ---------------- Inbound consumer ----------------

	consumer := kafka.NewConsumer(opts.brokers, opts.topicIn, opts.group, func(ctx context.Context, u kafka.Inbound) error {
		_, err := svc.Ingest(ctx, u.Channel, u.Pts, u.Count, u.Payload, u.Batch)
		return err
	})
	defer consumer.Close()

	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Fatalf("consumer exited: %v", err)
		}
	}()

	// ---------------- Outbound broadcaster ----------------

	publisher, err := broadcaster.NewSaramaPublisher(opts.brokers, opts.topicOut)
	if err != nil {
		return fmt.Errorf("publisher init: %w", err)
	}
	defer publisher.Close()

	bc := broadcaster.New(durable, publisher, 250*time.Millisecond)
	go bc.Run(ctx)

	// ---------------- Background jobs ----------------

	svc.StartSnapshotJob(ctx, snapDir, opts.snapshotInterval)
	svc.StartReclaimJob(ctx, 2*time.Second)

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcSrv := grpc.NewServer()
	grpcserver.Register(grpcSrv, grpcserver.NewServer(svc))

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	log.Printf("relayd listening on %s, consuming %s", opts.listen, opts.topicIn)

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("grpc server: %w", err)
	}
	return nil
}
